package capture

import (
	"fmt"
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// DeviceErrorKind classifies why a capture device could not be started.
type DeviceErrorKind int

const (
	// DeviceFailure is any failure that does not fit the other kinds
	DeviceFailure DeviceErrorKind = iota
	// PermissionDenied means access to the device was refused
	PermissionDenied
	// DeviceNotFound means there is no such device
	DeviceNotFound
	// DeviceBusy means the device is held by someone else
	DeviceBusy
)

func (k DeviceErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "permission denied"
	case DeviceNotFound:
		return "device not found"
	case DeviceBusy:
		return "device busy"
	default:
		return "device failure"
	}
}

// Sentinels for errors.Is matching against DeviceError.
var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrDeviceNotFound   = errors.New("camera not found")
	ErrDeviceBusy       = errors.New("camera in use")
)

// DeviceError is the user-facing error state of a capture session.
type DeviceError struct {
	Kind   DeviceErrorKind
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Device, e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrDeviceBusy) and friends work on classified errors
func (e *DeviceError) Is(target error) bool {
	switch target {
	case ErrPermissionDenied:
		return e.Kind == PermissionDenied
	case ErrDeviceNotFound:
		return e.Kind == DeviceNotFound
	case ErrDeviceBusy:
		return e.Kind == DeviceBusy
	}
	return false
}

// Classify wraps err into DeviceError with the matching kind.
// Already classified errors are returned as is.
func Classify(device string, err error) *DeviceError {
	if err == nil {
		return nil
	}
	var de *DeviceError
	if errors.As(err, &de) {
		return de
	}
	kind := DeviceFailure
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		kind = PermissionDenied
	case errors.Is(err, ErrDeviceNotFound), errors.Is(err, os.ErrNotExist), errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENXIO):
		kind = DeviceNotFound
	case errors.Is(err, ErrDeviceBusy), errors.Is(err, syscall.EBUSY):
		kind = DeviceBusy
	}
	return &DeviceError{
		Kind:   kind,
		Device: device,
		Err:    err,
	}
}
