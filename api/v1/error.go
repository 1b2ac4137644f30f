package api_v1

import (
	"fmt"
	"net/http"
)

// NotFoundError is returned when a flow, instance or task does not exist.
type NotFoundError struct {
	Kind string
	Id   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Id)
}

func (e NotFoundError) HttpStatus() int {
	return http.StatusNotFound
}

// InvalidStateError is returned when an operation is illegal for the
// entity's current status.
type InvalidStateError struct {
	Kind    string
	Id      string
	Status  string
	Message string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s in status %s: %s", e.Kind, e.Id, e.Status, e.Message)
}

func (e InvalidStateError) HttpStatus() int {
	return http.StatusConflict
}

type NoStartNodeError struct {
	FlowId string
}

func (e NoStartNodeError) Error() string {
	return fmt.Sprintf("flow %s has no start node", e.FlowId)
}

func (e NoStartNodeError) HttpStatus() int {
	return http.StatusUnprocessableEntity
}

type NoAssigneeError struct {
	NodeId string
}

func (e NoAssigneeError) Error() string {
	return fmt.Sprintf("node %s has no assigned users", e.NodeId)
}

func (e NoAssigneeError) HttpStatus() int {
	return http.StatusUnprocessableEntity
}

// ConflictError is returned by flow updates racing with active instances.
type ConflictError struct {
	FlowId          string
	ActiveInstances int
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("flow %s has %d active instances", e.FlowId, e.ActiveInstances)
}

func (e ConflictError) HttpStatus() int {
	return http.StatusConflict
}

// LockAcquisitionError is returned when lock contention exhausts the
// retry budget. The guarded operation was not executed.
type LockAcquisitionError struct {
	Key string
}

func (e LockAcquisitionError) Error() string {
	return fmt.Sprintf("could not acquire lock on %s", e.Key)
}

func (e LockAcquisitionError) HttpStatus() int {
	return http.StatusLocked
}

// DeliveryError is recorded for failed webhook attempts. It is never
// surfaced to the operation that triggered the delivery.
type DeliveryError struct {
	Url     string
	Attempt int
	Reason  string
}

func (e DeliveryError) Error() string {
	return fmt.Sprintf("webhook delivery to %s failed on attempt %d: %s", e.Url, e.Attempt, e.Reason)
}

type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

func (e ValidationError) HttpStatus() int {
	return http.StatusBadRequest
}
