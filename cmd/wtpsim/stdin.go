package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dawilster/scada-wtp-simulator/internal/engine"
	"github.com/dawilster/scada-wtp-simulator/internal/log"
)

// streamStdinCommands feeds newline-delimited Command Intake lines typed on
// stdin into the intake channel, grounded on wtp_process_sim.py's interactive
// console loop (it reads one command per line and prints the result). It
// exits quietly on EOF (piped/non-interactive stdin), or on ctx cancellation
// once the next line has been read; a blocked read is not interrupted.
func streamStdinCommands(ctx context.Context, ch chan<- engine.IntakeRequest) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		select {
		case <-ctx.Done():
			return
		case ch <- engine.IntakeRequest{Line: line, Respond: printReply}:
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		log.Warnf("stdin: read error: %v", err)
	}
}

func printReply(reply string) {
	fmt.Println(reply)
}
