package main

import (
	_ "embed"
	"net/http"
)

//go:embed openapi.yaml
var openapiDocument []byte

func serveOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapiDocument)
}
