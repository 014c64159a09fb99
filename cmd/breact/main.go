// Command breact lists the platform's service catalog or runs one endpoint to
// completion. It is configured through the BREACT_* environment variables.
//
//	breact services
//	breact exec <service> <endpoint> '<json params>'
//	breact status <process_id> <access_token>
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	xerrors "BReact-SDK/pkg/errors"
	"BReact-SDK/pkg/job"
	"BReact-SDK/sdk/go/breact"
)

var errUsage = errors.New("usage: breact services | exec <service> <endpoint> [json params] | status <process_id> <access_token>")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if code := xerrors.CodeOf(err); code != xerrors.CodeUnknown {
			log.Fatalf("breact: %s: %v", code, err)
		}
		log.Fatalf("breact: %v", err)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	lazy := args[0] == "status"
	opts := []breact.Option{}
	if lazy {
		opts = append(opts, breact.WithLazyDiscovery())
	}
	client, err := breact.New(ctx, opts...)
	if err != nil {
		return err
	}
	defer client.Close()

	switch args[0] {
	case "services":
		return listServices(client)
	case "exec":
		if len(args) < 3 {
			return errUsage
		}
		params := map[string]any{}
		if len(args) > 3 {
			if err := json.Unmarshal([]byte(args[3]), &params); err != nil {
				return fmt.Errorf("parse params: %w", err)
			}
		}
		res, err := client.ExecuteService(ctx, args[1], args[2], params)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"process_id": res.Handle.ProcessID,
			"result":     json.RawMessage(res.Data),
		})
	case "status":
		if len(args) < 3 {
			return errUsage
		}
		report, err := client.Status(ctx, job.Handle{ProcessID: args[1], AccessToken: args[2]})
		if err != nil {
			return err
		}
		return printJSON(report)
	default:
		return errUsage
	}
}

func listServices(client *breact.Client) error {
	services := client.Services()
	ids := make([]string, 0, len(services))
	for id := range services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		d := services[id]
		fmt.Printf("%-20s %-8s %v\n", id, d.Version, d.EndpointNames())
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
