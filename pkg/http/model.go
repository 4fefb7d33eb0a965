package http

// APIResponse represents standard API response.
type APIResponse struct {
	Status  int         `json:"status" example:"422"`
	Message string      `json:"message" example:"Unprocessable Entity"`
	Data    interface{} `json:"data,omitempty"`
}

// ValidationError represents validation error detail.
type ValidationError struct {
	Code    string                 `json:"code,omitempty" example:"ERR_REQUIRED"`
	Field   string                 `json:"field,omitempty" example:"items[0].series_id"`
	Message string                 `json:"message,omitempty" example:"series_id is required"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// RequestError is returned when a request body cannot be bound or fails validation.
type RequestError struct {
	Status  int
	Details []ValidationError
}

func (e *RequestError) Error() string {
	if len(e.Details) == 0 {
		return "invalid request"
	}
	return e.Details[0].Message
}
