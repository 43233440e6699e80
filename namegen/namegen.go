// Package namegen generates the short random names used to identify
// provisioning runs and the servers they create.
package namegen

import (
	vendor "github.com/anandvarma/namegen"
)

var gen = vendor.New()

type ID string

func Get() ID {
	return ID(gen.Get())
}

func (id ID) String() string {
	return string(id)
}
