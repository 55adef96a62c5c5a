package fiscal

import "fmt"

// Tenant identifies the taxpayer branch every request is stamped with.
type Tenant struct {
	BaseURL      string `validate:"required,url"`
	TIN          string `validate:"required"`
	BranchID     string `validate:"required"`
	DeviceSerial string
}

// Validate checks that the tenant settings are complete.
func (t Tenant) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("fiscal: tenant settings: %w", err)
	}
	return nil
}

// Key returns a stable identifier for the tenant branch.
func (t Tenant) Key() string {
	return t.TIN + ":" + t.BranchID
}
