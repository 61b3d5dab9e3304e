// Package flags holds flag value types shared by the eidaws binaries.
package flags

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

// EnumValue is a string flag constrained to a fixed set of values. Pattern
// from https://github.com/urfave/cli/issues/602.
type EnumValue struct {
	Name        string
	Usage       string
	Destination *string
	Enum        []string
	Value       string
}

// Set implements cli.Generic, rejecting values outside the enum.
func (e *EnumValue) Set(value string) error {
	for _, allowed := range e.Enum {
		if value == allowed {
			*e.Destination = value
			return nil
		}
	}
	return errors.Errorf("allowed values are %s", strings.Join(e.Enum, ", "))
}

// String reports the selected value, falling back to the default.
func (e *EnumValue) String() string {
	if e.Destination != nil && *e.Destination != "" {
		return *e.Destination
	}
	return e.Value
}

// GenericFlag wraps the enum into a cli.GenericFlag, seeding the destination
// with the default value.
func (e EnumValue) GenericFlag() *cli.GenericFlag {
	*e.Destination = e.Value
	var v cli.Generic = &e
	return &cli.GenericFlag{Name: e.Name, Usage: e.Usage, Destination: v, Value: v}
}
