package main

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// roundTrip dials socketPath, sends one Request, and decodes the single
// Response the server writes back before closing the connection. Each
// monitor command subcommand is a thin client built on this helper, the
// CLI-process analogue of the in-process hook_add_*/tracer_add_*
// function calls a real monitor command handler would make directly.
func roundTrip(socketPath string, command string, args any) (Response, error) {
	if socketPath == "" {
		return Response{}, fmt.Errorf("mbamon: -monitor-socket is not set; start \"mbamon -monitor-socket=<path> run\" first")
	}
	req, err := newRequest(command, args)
	if err != nil {
		return Response{}, fmt.Errorf("mbamon: encoding request: %w", err)
	}

	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return Response{}, fmt.Errorf("mbamon: dialing %s: %w", socketPath, err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("mbamon: sending request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("mbamon: reading response: %w", err)
	}
	if !resp.OK {
		return resp, fmt.Errorf("mbamon: %s", resp.Error)
	}
	return resp, nil
}

func decodeResult[T any](resp Response) (T, error) {
	var out T
	if len(resp.Result) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		return out, fmt.Errorf("mbamon: decoding result: %w", err)
	}
	return out, nil
}
