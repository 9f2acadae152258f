//go:build darwin && cgo

package hook

/*
#include <stdint.h>
*/
import "C"

import (
	"runtime/cgo"

	"github.com/eliteGoblin/clickguard/internal/domain"
)

func driverFor(handle C.uintptr_t) (d *darwinDriver) {
	defer func() {
		if recover() != nil {
			d = nil
		}
	}()
	d, _ = cgo.Handle(handle).Value().(*darwinDriver)
	return d
}

//export goClickGuardAllow
func goClickGuardAllow(handle C.uintptr_t, button C.int) C.int {
	d := driverFor(handle)
	if d == nil || d.hook == nil {
		return 1
	}
	if d.hook.handle(domain.Button(button)) {
		return 1
	}
	return 0
}

//export goClickGuardTapDisabled
func goClickGuardTapDisabled(handle C.uintptr_t) {
	if d := driverFor(handle); d != nil {
		d.reenable()
	}
}
