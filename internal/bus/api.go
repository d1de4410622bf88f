package bus

import (
	"github.com/osbuild/installer-core/internal/structure"
)

const BasePath = "/api/bus/v1"

type CallRequest struct {
	Path      string              `json:"path"`
	Interface string              `json:"interface"`
	Method    string              `json:"method"`
	Args      []structure.Variant `json:"args"`
}

type CallResponse struct {
	Results []structure.Variant `json:"results"`
}

type PropertyRequest struct {
	Path      string             `json:"path"`
	Interface string             `json:"interface"`
	Property  string             `json:"property"`
	Value     *structure.Variant `json:"value,omitempty"`
}

type PropertyResponse struct {
	Value structure.Variant `json:"value"`
}

type GetAllRequest struct {
	Path      string `json:"path"`
	Interface string `json:"interface"`
}

type GetAllResponse struct {
	Properties map[string]structure.Variant `json:"properties"`
}

type ObjectsResponse struct {
	Paths []string `json:"paths"`
}

type StatusResponse struct {
	Status      string `json:"status"`
	Objects     int    `json:"objects"`
	BuildCommit string `json:"build_commit"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Message     string `json:"message"`
	OperationID string `json:"operation_id"`
}
