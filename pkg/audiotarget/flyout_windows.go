package audiotarget

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"
)

var (
	clsidImmersiveShell      = ole.NewGUID("{C2F03A33-21F5-47FA-B4BB-156362A2F239}")
	iidServiceProvider       = ole.NewGUID("{6D5140C1-7436-11CE-8034-00AA006009FA}")
	iidAudioFlyoutController = ole.NewGUID("{41F9D2FB-7834-4AB6-8B1B-73E74064B465}")
)

// IServiceProvider and IAudioFlyoutController each add a single method after IUnknown
type singleMethodVtbl struct {
	ole.IUnknownVtbl
	Method uintptr
}

// wcaFlyout is the shell's audio flyout controller. It is opened once by the backend,
// reused for every show and released exactly once with the backend.
type wcaFlyout struct {
	shell      *ole.IUnknown
	controller *ole.IUnknown
}

func openFlyout() (*wcaFlyout, error) {
	shell, err := ole.CreateInstance(clsidImmersiveShell, iidServiceProvider)
	if err != nil {
		return nil, fmt.Errorf("create immersive shell: %w", err)
	}

	f := &wcaFlyout{shell: shell}

	// QueryService(guidService, riid, ppv)
	if err := f.call(shell,
		uintptr(unsafe.Pointer(iidAudioFlyoutController)),
		uintptr(unsafe.Pointer(iidAudioFlyoutController)),
		uintptr(unsafe.Pointer(&f.controller)),
	); err != nil {
		f.release()
		return nil, fmt.Errorf("query audio flyout controller: %w", err)
	}

	return f, nil
}

// show pops the volume flyout the media keys show, in its default mode
func (f *wcaFlyout) show() error {
	if f.controller == nil {
		return ErrReleased
	}

	// ShowFlyout(mode, param)
	if err := f.call(f.controller, 0, 0); err != nil {
		return fmt.Errorf("show audio flyout: %w", err)
	}

	return nil
}

func (f *wcaFlyout) call(iface *ole.IUnknown, args ...uintptr) error {
	vtbl := (*singleMethodVtbl)(unsafe.Pointer(iface.RawVTable))

	hr, _, _ := syscall.SyscallN(vtbl.Method, append([]uintptr{uintptr(unsafe.Pointer(iface))}, args...)...)
	if hr != 0 {
		return ole.NewError(hr)
	}

	return nil
}

func (f *wcaFlyout) release() {
	if f.controller != nil {
		f.controller.Release()
		f.controller = nil
	}

	if f.shell != nil {
		f.shell.Release()
		f.shell = nil
	}
}
