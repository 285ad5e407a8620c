package audiotarget

import (
	_ "embed"

	"github.com/MixyLabs/audiotarget/pkg/audiotarget/util"
)

var (
	//go:embed assets/logo.ico
	logoIconICO []byte

	//go:embed assets/logo.png
	logoIconPNG []byte
)

// trayIconData returns the icon in the format the platform's tray expects
func trayIconData() []byte {
	if util.Linux() {
		return logoIconPNG
	}

	return logoIconICO
}
