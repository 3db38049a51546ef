// Command trxpasscode prints the APRS-IS passcode for a callsign.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sgrams/trxd/pkg/decode/aprs"
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: trxpasscode CALLSIGN")
		os.Exit(2)
	}
	fmt.Println(aprs.Passcode(flag.Arg(0)))
}
