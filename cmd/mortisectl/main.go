// Command mortisectl is a thin control-socket client for exercising the
// manager by hand, grounded on manager-cli.rs's clap subcommands
// (Load/Unload/Insert/Ping) translated to urfave/cli.
package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/mortise-project/mortise-manager/pkg/ipc"
	"github.com/mortise-project/mortise-manager/pkg/protocol"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "mortisectl",
		Usage: "talk to a running mortise-manager over its control socket",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "socket",
				Usage: "control socket path",
				Value: "/tmp/mortise.sock",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "load",
				Usage:     "load a struct_ops object",
				ArgsUsage: "<path>",
				Action:    runLoad,
			},
			{
				Name:      "unload",
				Usage:     "unload an object by id",
				ArgsUsage: "<obj_id>",
				Action:    runUnload,
			},
			{
				Name:      "insert",
				Usage:     "insert a struct_ops object under a given id",
				ArgsUsage: "<obj_id> <path>",
				Action:    runInsert,
			},
			{
				Name:   "ping",
				Usage:  "send a ping-pong and print the reply",
				Action: runPing,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runLoad(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.Exit("usage: mortisectl load <path>", 1)
	}
	path, err := filepath.Abs(c.Args().Get(0))
	if err != nil {
		return err
	}
	resp, err := roundTrip(c.String("socket"), protocol.Operation{
		Manager: protocol.LoadOp{Path: path},
	})
	if err != nil {
		return err
	}
	if resp.IsErr {
		fmt.Printf("Failed to load: %s\n", resp.Err)
		return nil
	}
	if len(resp.Ok) != 4 {
		return cli.Exit("malformed load response", 1)
	}
	fmt.Printf("Loaded with obj_id %d\n", binary.BigEndian.Uint32(resp.Ok))
	return nil
}

func runUnload(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.Exit("usage: mortisectl unload <obj_id>", 1)
	}
	objID, err := parseObjID(c.Args().Get(0))
	if err != nil {
		return err
	}
	resp, err := roundTrip(c.String("socket"), protocol.Operation{
		Manager: protocol.UnloadOp{ObjID: objID},
	})
	if err != nil {
		return err
	}
	if resp.IsErr {
		fmt.Printf("Failed to unload: %s\n", resp.Err)
		return nil
	}
	fmt.Printf("Unloaded object with id %d\n", objID)
	return nil
}

func runInsert(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return cli.Exit("usage: mortisectl insert <obj_id> <path>", 1)
	}
	objID, err := parseObjID(c.Args().Get(0))
	if err != nil {
		return err
	}
	path, err := filepath.Abs(c.Args().Get(1))
	if err != nil {
		return err
	}
	resp, err := roundTrip(c.String("socket"), protocol.Operation{
		Manager: protocol.InsertOp{ObjID: objID, Path: path},
	})
	if err != nil {
		return err
	}
	if resp.IsErr {
		fmt.Printf("Failed to insert: %s\n", resp.Err)
		return nil
	}
	fmt.Printf("Inserted object with id %d\n", objID)
	return nil
}

func runPing(c *cli.Context) error {
	fmt.Println("Ping")
	resp, err := roundTrip(c.String("socket"), protocol.Operation{Manager: protocol.PingPongOp{}})
	if err != nil {
		return err
	}
	if resp.IsErr {
		fmt.Println(resp.Err)
		return nil
	}
	fmt.Println("Pong")
	return nil
}

func parseObjID(s string) (uint32, error) {
	var v uint32
	_, err := fmt.Sscanf(s, "%d", &v)
	if err != nil {
		return 0, cli.Exit(fmt.Sprintf("invalid obj_id %q", s), 1)
	}
	return v, nil
}

func roundTrip(socket string, op protocol.Operation) (protocol.Response, error) {
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("dialing %s: %w", socket, err)
	}
	defer conn.Close()

	body, err := json.Marshal(op)
	if err != nil {
		return protocol.Response{}, err
	}
	if err := ipc.WriteFrame(conn, body); err != nil {
		return protocol.Response{}, err
	}
	respBody, err := ipc.ReadFrame(conn)
	if err != nil {
		return protocol.Response{}, err
	}
	var resp protocol.Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return protocol.Response{}, fmt.Errorf("decoding response: %w", err)
	}
	return resp, nil
}
