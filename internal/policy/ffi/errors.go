// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package ffi

import "github.com/samber/oops"

// KindFFIBadArgument is raised whenever a built-in module's argument shape
// doesn't match its declared signature — the VM looks the signature up at
// call time, pops as many values as it declares and uses its color only to
// decide whether to push a result, so per-argument checks (e.g. "is this
// struct actually an Envelope") happen here.
const KindFFIBadArgument = "FfiBadArgument"

func ffiError(proc, format string, args ...any) error {
	return oops.Code(KindFFIBadArgument).With("proc", proc).Errorf(format, args...)
}
