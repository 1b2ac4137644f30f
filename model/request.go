package model

type StartInstanceRequest struct {
	DocumentId  string `json:"documentId"`
	FlowId      string `json:"flowId"`
	InitiatorId string `json:"initiatorId"`
}

type CompleteTaskRequest struct {
	UserId  string         `json:"userId"`
	Payload map[string]any `json:"payload,omitempty"`
}

type ReturnInstanceRequest struct {
	TargetNodeId string `json:"targetNodeId"`
	UserId       string `json:"userId"`
	Annotation   string `json:"annotation"`
}

type ResumeInstanceRequest struct {
	UserId string `json:"userId"`
}
