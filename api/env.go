package api

import (
	"os"
	"strings"
)

const (
	EdgeEnvPrefix = "EDGE_"
)

func ReadEdgeVariable(name string) string {
	if strings.HasPrefix(name, EdgeEnvPrefix) {
		return os.Getenv(name)
	}
	return ""
}
