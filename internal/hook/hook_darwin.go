//go:build darwin && cgo

package hook

/*
#cgo LDFLAGS: -framework ApplicationServices -framework CoreFoundation

#include <ApplicationServices/ApplicationServices.h>
#include <stdint.h>
#include <stdlib.h>

extern int goClickGuardAllow(uintptr_t handle, int button);
extern void goClickGuardTapDisabled(uintptr_t handle);

typedef struct {
	CFMachPortRef tap;
	CFRunLoopSourceRef source;
} cgTap;

// Button codes match domain.Button.
static CGEventRef cgTapCallback(CGEventTapProxy proxy, CGEventType type, CGEventRef event, void *refcon) {
	(void)proxy;
	uintptr_t handle = (uintptr_t)refcon;
	int button;

	switch (type) {
	case kCGEventTapDisabledByTimeout:
	case kCGEventTapDisabledByUserInput:
		goClickGuardTapDisabled(handle);
		return event;
	case kCGEventLeftMouseDown:
		button = 1;
		break;
	case kCGEventRightMouseDown:
		button = 2;
		break;
	case kCGEventOtherMouseDown:
		button = 3;
		break;
	default:
		return event;
	}

	if (goClickGuardAllow(handle, button)) {
		return event;
	}
	return NULL;
}

static int cgTapInstall(cgTap *t, uintptr_t handle) {
	CGEventMask mask = CGEventMaskBit(kCGEventLeftMouseDown) |
		CGEventMaskBit(kCGEventRightMouseDown) |
		CGEventMaskBit(kCGEventOtherMouseDown);

	t->tap = CGEventTapCreate(kCGHIDEventTap, kCGHeadInsertEventTap,
		kCGEventTapOptionDefault, mask, cgTapCallback, (void *)handle);
	if (t->tap == NULL) {
		return -1;
	}
	t->source = CFMachPortCreateRunLoopSource(kCFAllocatorDefault, t->tap, 0);
	if (t->source == NULL) {
		CFMachPortInvalidate(t->tap);
		CFRelease(t->tap);
		t->tap = NULL;
		return -2;
	}
	CFRunLoopAddSource(CFRunLoopGetCurrent(), t->source, kCFRunLoopCommonModes);
	CGEventTapEnable(t->tap, true);
	return 0;
}

static void cgTapPump(double seconds) {
	CFRunLoopRunInMode(kCFRunLoopDefaultMode, seconds, true);
}

static void cgTapReenable(cgTap *t) {
	if (t->tap != NULL) {
		CGEventTapEnable(t->tap, true);
	}
}

static void cgTapTeardown(cgTap *t) {
	if (t->tap != NULL) {
		CGEventTapEnable(t->tap, false);
	}
	if (t->source != NULL) {
		CFRunLoopRemoveSource(CFRunLoopGetCurrent(), t->source, kCFRunLoopCommonModes);
		CFRelease(t->source);
		t->source = NULL;
	}
	if (t->tap != NULL) {
		CFMachPortInvalidate(t->tap);
		CFRelease(t->tap);
		t->tap = NULL;
	}
}

static int cgAccessibilityTrusted(void) {
	return AXIsProcessTrusted() ? 1 : 0;
}
*/
import "C"

import (
	"fmt"
	"os/exec"
	"runtime/cgo"
	"time"
	"unsafe"

	"go.uber.org/zap"

	"github.com/eliteGoblin/clickguard/internal/domain"
)

const (
	accessibilitySettingsURL = "x-apple.systempreferences:com.apple.preference.security?Privacy_Accessibility"
	accessibilityMessage     = "macOS Accessibility permission required. Enable in System Settings > Privacy & Security > Accessibility, then relaunch."
)

// darwinDriver runs a CGEventTap on the hook's delivery thread.
// The cgo.Handle passed as refcon stays valid until teardown, which runs
// on the same thread after the run loop has returned.
type darwinDriver struct {
	logger *zap.Logger
	hook   *Hook
	tap    *C.cgTap
	handle cgo.Handle
}

// New creates a hook backed by a macOS event tap. Nothing is installed
// until Start.
func New(n domain.Notifier, logger *zap.Logger) (domain.Hook, error) {
	return NewWithConfig(n, logger, DefaultConfig())
}

// NewWithConfig is New with explicit timings.
func NewWithConfig(n domain.Notifier, logger *zap.Logger, cfg Config) (domain.Hook, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newHook(&darwinDriver{logger: logger}, n, logger, cfg), nil
}

// Supported reports whether this build can intercept mouse events.
func Supported() bool {
	return true
}

func (d *darwinDriver) authorize() error {
	if C.cgAccessibilityTrusted() != 0 {
		return nil
	}
	// Best effort; the error below tells the user what to do either way.
	if err := exec.Command("open", accessibilitySettingsURL).Start(); err != nil {
		d.logger.Warn("failed to open accessibility settings", zap.Error(err))
	}
	return domain.NewPlatformError(accessibilityMessage)
}

func (d *darwinDriver) install(h *Hook) error {
	d.hook = h
	d.tap = (*C.cgTap)(C.calloc(1, C.sizeof_cgTap))
	d.handle = cgo.NewHandle(d)

	if rc := C.cgTapInstall(d.tap, C.uintptr_t(d.handle)); rc != 0 {
		d.release()
		return fmt.Errorf("event tap creation failed (code %d)", int(rc))
	}
	return nil
}

func (d *darwinDriver) pump(slice time.Duration) {
	C.cgTapPump(C.double(slice.Seconds()))
}

func (d *darwinDriver) teardown() {
	if d.tap != nil {
		C.cgTapTeardown(d.tap)
	}
	d.release()
}

func (d *darwinDriver) release() {
	if d.tap != nil {
		C.free(unsafe.Pointer(d.tap))
		d.tap = nil
	}
	if d.handle != 0 {
		d.handle.Delete()
		d.handle = 0
	}
}

func (d *darwinDriver) reenable() {
	if d.tap != nil {
		C.cgTapReenable(d.tap)
	}
	d.hook.tapReenabled()
}
