package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"stepup-challenge/internal/challenge/handler"
)

const statusTimeout = 5 * time.Second

// StatusCmd returns the status command: fetch a session's state from a running server.
func StatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show the state of a session on a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
			defer cancel()
			state, err := FetchState(ctx, conn, args[0])
			if err != nil {
				return err
			}
			PrintState(cmd.OutOrStdout(), state)
			return nil
		},
	}
	cmd.Flags().String("addr", "localhost:8080", "Server address")
	return cmd
}

// FetchState calls GetState for sessionID over conn.
func FetchState(ctx context.Context, conn grpc.ClientConnInterface, sessionID string) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]interface{}{"sessionId": sessionID})
	if err != nil {
		return nil, err
	}
	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, handler.MethodGetState, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// PrintState writes the top-level fields of state, phase first.
func PrintState(w io.Writer, state *structpb.Struct) {
	fields := state.AsMap()
	if phase, ok := fields["phase"]; ok {
		fmt.Fprintf(w, "%s %v\n", headerColor.Sprint("phase:"), phase)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "phase" || k == "instrument" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s %v\n", hintColor.Sprint(k+":"), fields[k])
	}
	if in, ok := fields["instrument"].(map[string]interface{}); ok {
		fmt.Fprintf(w, "%s %v %v %v\n", hintColor.Sprint("instrument:"), in["brand"], in["maskedNumber"], in["amount"])
	}
}
