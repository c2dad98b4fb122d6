package interfaces

// WorkerStatus is the payload of a worker's status operation.
type WorkerStatus struct {
	ModelNames  []string `json:"model_names"`
	Speed       int      `json:"speed"`
	QueueLength int      `json:"queue_length"`
}

// GenerateParams is the request body of the worker generate operations.
type GenerateParams struct {
	Model             string   `json:"model"`
	Prompt            string   `json:"prompt"`
	Temperature       float64  `json:"temperature"`
	TopP              float64  `json:"top_p"`
	RepetitionPenalty float64  `json:"repetition_penalty,omitempty"`
	MaxNewTokens      int      `json:"max_new_tokens"`
	Stop              []string `json:"stop,omitempty"`
	StopTokenIDs      []int    `json:"stop_token_ids,omitempty"`
	Stream            bool     `json:"stream"`
	Echo              bool     `json:"echo"`
}
