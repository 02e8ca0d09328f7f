package http

import (
	"github.com/zzenonn/zplace/internal/domain"
	"github.com/zzenonn/zplace/internal/placement"
)

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusSuccess indicates an operation completed successfully.
	StatusSuccess Status = "success"

	// StatusDegraded marks a layout with fewer shards than requested.
	StatusDegraded Status = "degraded"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// Response represents the standard API response format.
type Response struct {
	Status  Status `json:"status,omitempty"`
	Version uint64 `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// LayoutResponse carries a computed object layout.
type LayoutResponse struct {
	Response
	Layout *domain.ObjectLayout `json:"layout,omitempty"`
}

// RebuildResponse lists the shard moves of one object.
type RebuildResponse struct {
	Response
	Tasks []placement.RebuildTask `json:"tasks"`
}

// PoolInfo describes a pool in PoolsResponse.
type PoolInfo struct {
	Name      string `json:"name"`
	Version   uint64 `json:"version"`
	State     string `json:"state"`
	Algorithm string `json:"algorithm"`
	Class     string `json:"class"`
}

type PoolsResponse struct {
	Response
	Pools []PoolInfo `json:"pools"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewVersionResponse(version uint64) Response {
	return Response{Status: StatusSuccess, Version: version}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}
