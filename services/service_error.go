package services

// ServiceError is a typed error with an HTTP status code.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string { return e.Message }

// Caller identifies the authenticated requester.
type Caller struct {
	ID   string
	Role string
}

func (c Caller) IsAdmin() bool { return c.Role == "admin" }
