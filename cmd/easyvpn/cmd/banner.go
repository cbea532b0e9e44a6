package cmd

import (
	"fmt"
)

const banner = `
  ______                 __      _______  _   _
 |  ____|                \ \    / /  __ \| \ | |
 | |__   __ _ ___ _   _   \ \  / /| |__) |  \| |
 |  __| / _` + "`" + ` / __| | | |   \ \/ / |  ___/| . ` + "`" + ` |
 | |___| (_| \__ \ |_| |    \  /  | |    | |\  |
 |______\__,_|___/\__, |     \/   |_|    |_| \_|
                   __/ |
                  |___/
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  OpenVPN Credential Service - Version %s\x1b[0m\n\n", Version)
}
