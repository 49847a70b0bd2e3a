package models

import "time"

// RegisterCommand carries parsed registration input into the service.
type RegisterCommand struct {
	Name          string
	BirthDate     time.Time
	ParentAddress string
}
