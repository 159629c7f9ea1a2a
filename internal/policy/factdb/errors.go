// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package factdb

import "github.com/samber/oops"

// ErrFactAlreadyExists and ErrFactNotFound carry the machine error kinds
// §4.E names for Create/Update/Delete failures; the machine package
// re-wraps these with instruction span context before surfacing them.
var (
	ErrFactAlreadyExists = oops.Code("FactAlreadyExists").Errorf("fact already exists")
	ErrFactNotFound       = oops.Code("FactNotFound").Errorf("fact not found")
)
