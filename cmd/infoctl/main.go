// Command infoctl is a thin CLI client for infod3, exercising the wire
// protocol from outside the daemon process (spec §1 "external interface").
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/infod3/infod/internal/client"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("infoctl", flag.ContinueOnError)
	network := fs.StringP("network", "n", "tcp", `connection network: "tcp" or "unix"`)
	addr := fs.StringP("addr", "a", "127.0.0.1:4242", "address or socket path to dial")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return runREPL(*network, *addr)
	}

	c, err := client.Dial(*network, *addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "infoctl:", err)
		return 1
	}
	defer c.Close()

	return runCommand(c, rest)
}

func runCommand(c *client.Client, args []string) int {
	switch args[0] {
	case "get":
		return cmdGet(c, args[1:])
	case "put":
		return cmdPut(c, args[1:])
	case "del":
		return cmdDel(c, args[1:])
	case "sub":
		return cmdSub(c, args[1:])
	case "dump":
		return cmdDump(c, args[1:])
	case "ping":
		return cmdPing(c, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "infoctl: unknown command %q\n", args[0])
		return 1
	}
}

func cmdGet(c *client.Client, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: infoctl get <key>")
		return 1
	}
	value, ok, err := c.Get([]byte(args[0]))
	if err != nil {
		fmt.Fprintln(os.Stderr, "infoctl:", err)
		return 1
	}
	if !ok {
		fmt.Println("(not found)")
		return 0
	}
	fmt.Println(string(value))
	return 0
}

func cmdPut(c *client.Client, args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: infoctl put <key> <value>")
		return 1
	}
	if err := c.Put([]byte(args[0]), []byte(args[1])); err != nil {
		fmt.Fprintln(os.Stderr, "infoctl:", err)
		return 1
	}
	return 0
}

func cmdDel(c *client.Client, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: infoctl del <key>")
		return 1
	}
	if err := c.Delete([]byte(args[0])); err != nil {
		fmt.Fprintln(os.Stderr, "infoctl:", err)
		return 1
	}
	return 0
}

func cmdPing(c *client.Client, args []string) int {
	payload := []byte("ping")
	if len(args) == 1 {
		payload = []byte(args[0])
	}
	reply, err := c.Ping(payload)
	if err != nil {
		fmt.Fprintln(os.Stderr, "infoctl:", err)
		return 1
	}
	fmt.Println(string(reply))
	return 0
}

func cmdSub(c *client.Client, args []string) int {
	pattern := "*"
	if len(args) == 1 {
		pattern = args[0]
	}
	infos, err := c.Sub([]byte(pattern))
	if err != nil {
		fmt.Fprintln(os.Stderr, "infoctl:", err)
		return 1
	}
	for _, info := range infos {
		printInfo(info)
	}
	for {
		info, err := c.Recv()
		if err != nil {
			return 0
		}
		printInfo(info)
	}
}

func printInfo(info client.Info) {
	if !info.Present {
		fmt.Printf("- %s\n", info.Key)
		return
	}
	fmt.Printf("%s = %s\n", info.Key, info.Value)
}
