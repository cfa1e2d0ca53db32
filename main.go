package main

import (
	"github.com/foomo/sysfshelper/cmd"
)

func main() {
	cmd.Execute()
}
