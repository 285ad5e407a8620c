package audiotarget

import (
	"fyne.io/systray"

	"github.com/MixyLabs/audiotarget/pkg/audiotarget/util"
)

const trayTitle = "audiotarget"

func (a *AudioTarget) initializeTray(onDone func()) {
	logger := a.logger.Named("tray")

	onReady := func() {
		logger.Debug("Tray instance ready")

		icon := trayIconData()
		systray.SetTemplateIcon(icon, icon)
		systray.SetTitle(trayTitle)
		systray.SetTooltip(trayTitle)

		// the controller isn't running yet, so it can be read directly
		st := a.controller.State()

		targetForeground := systray.AddMenuItem("Target foreground app", "Select the audio session of the focused window")
		nextSession := systray.AddMenuItem("Next session", "Select the next audio session")
		previousSession := systray.AddMenuItem("Previous session", "Select the previous audio session")
		nextDevice := systray.AddMenuItem("Next device", "Select the next audio device")

		systray.AddSeparator()
		lockSession := systray.AddMenuItemCheckbox("Lock session", "Keep the selected session through reloads", st.LockSession)
		lockDevice := systray.AddMenuItemCheckbox("Lock device", "Keep the selected device through reloads", st.LockDevice)

		systray.AddSeparator()
		editConfig := systray.AddMenuItem("Edit configuration", "Open config file with notepad")
		reload := systray.AddMenuItem("Re-scan audio devices", "Manually reload devices and sessions if something's stuck")

		if a.version != "" {
			systray.AddSeparator()
			versionInfo := systray.AddMenuItem(a.version, "")
			versionInfo.Disable()
		}

		systray.AddSeparator()
		quit := systray.AddMenuItem("Quit", "Stop audiotarget and quit")

		go func() {
			for {
				select {
				case <-quit.ClickedCh:
					logger.Info("Quit menu item clicked, stopping")

					a.signalStop()

				case <-editConfig.ClickedCh:
					logger.Info("Edit config menu item clicked, opening config for editing")

					editor := "notepad.exe"
					if util.Linux() {
						editor = "xdg-open"
					}

					if err := util.OpenExternal(logger, editor, a.configMan.userConfigFilepath); err != nil {
						logger.Warnw("Failed to open config file for editing", "error", err)
					}

				case <-reload.ClickedCh:
					logger.Info("Re-scan menu item clicked, reloading devices and sessions")

					a.invoke(func(c *Controller) {
						if err := c.Reload(); err != nil {
							logger.Warnw("Failed to reload from tray", "error", err)
						}
					})

				case <-targetForeground.ClickedCh:
					a.invoke(func(c *Controller) {
						matched, err := c.TargetForegroundProcess()
						if err != nil {
							logger.Warnw("Failed to target foreground app", "error", err)
						} else if !matched {
							logger.Info("Foreground app isn't playing audio")
						}
					})

				case <-nextSession.ClickedCh:
					a.invoke(func(c *Controller) { c.SelectNextSession() })

				case <-previousSession.ClickedCh:
					a.invoke(func(c *Controller) { c.SelectPreviousSession() })

				case <-nextDevice.ClickedCh:
					a.invoke(func(c *Controller) { c.SelectNextDevice() })

				case <-lockSession.ClickedCh:
					toggleCheckbox(lockSession)
					locked := lockSession.Checked()
					a.invoke(func(c *Controller) { c.LockSession(locked) })

				case <-lockDevice.ClickedCh:
					toggleCheckbox(lockDevice)
					locked := lockDevice.Checked()
					a.invoke(func(c *Controller) { c.LockDevice(locked) })
				}
			}
		}()

		a.trayReady.Store(true)
		a.setTrayTarget(st.Target)

		onDone()
	}

	onExit := func() {
		logger.Debug("Tray exited")
	}

	logger.Debug("Running in tray")
	systray.Run(onReady, onExit)
}

func toggleCheckbox(item *systray.MenuItem) {
	if item.Checked() {
		item.Uncheck()
	} else {
		item.Check()
	}
}

func (a *AudioTarget) setTrayTarget(target string) {
	if !a.trayReady.Load() {
		return
	}

	if target == "" {
		systray.SetTooltip(trayTitle)
		return
	}

	systray.SetTooltip(trayTitle + ": " + target)
}

func (a *AudioTarget) stopTray() {
	a.logger.Debug("Quitting tray")
	systray.Quit()
}
