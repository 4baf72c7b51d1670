package main

import (
	"fmt"
	"os"

	"github.com/danmuck/satlink/internal/logging"
)

const usage = `usage: satxfer <command> [flags]

commands:
  recv      wait for one checksummed file transfer and write it out
  send      push one file with the checksummed transfer
  folder    push a directory as manifest + raw bodies
  manifest  print a directory manifest, optionally diffed against a saved one
  frame     compose a command frame and print or write it`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	logging.ConfigureRuntime()

	var err error
	switch os.Args[1] {
	case "recv":
		err = runRecv(os.Args[2:])
	case "send":
		err = runSend(os.Args[2:])
	case "folder":
		err = runFolder(os.Args[2:])
	case "manifest":
		err = runManifest(os.Args[2:], os.Stdout)
	case "frame":
		err = runFrame(os.Args[2:], os.Stdout)
	case "-h", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "satxfer: unknown command %q\n\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "satxfer %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}
