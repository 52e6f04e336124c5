package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	coreerrors "github.com/hybridcore/core/internal/errors"
	"github.com/hybridcore/core/internal/model"
	"github.com/hybridcore/core/internal/personalize"
)

// rpcRequest is one line of the stdio protocol: a JSON-RPC-flavored
// envelope carrying a SearchRequest. This is a smoke-test harness, not a
// production transport; the surrounding service layer owns HTTP/gRPC.
type rpcRequest struct {
	ID     json.RawMessage     `json:"id"`
	Method string              `json:"method"`
	Params model.SearchRequest `json:"params"`
}

type rpcResponse struct {
	ID     json.RawMessage       `json:"id"`
	Result *model.SearchResponse `json:"result,omitempty"`
	Error  string                `json:"error,omitempty"`
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve hybrid search requests over stdio",
		Long: `Read newline-delimited JSON-RPC-style requests from stdin, one
{"id":...,"method":"search","params":{...SearchRequest}} per line, and
write a {"id":...,"result":{...SearchResponse}} (or "error") response to
stdout, one per line. A background scheduler sweeps pending activity
batches into adapter training on the configured interval.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	return cmd
}

func runServe(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir, err := dataDirPath(dataDir)
	if err != nil {
		return err
	}
	rt, err := openRuntime(ctx, configDir, dir)
	if err != nil {
		return err
	}
	defer rt.close()

	log := slog.Default()

	orch, adapters, err := rt.buildOrchestrator(ctx, log)
	if err != nil {
		return err
	}

	embedder, err := rt.requireEmbedder(ctx)
	if err != nil {
		return err
	}

	scheduler := personalize.NewTrainingScheduler(
		adapters,
		noopEventSource{},
		contentEmbedFn(rt),
		rt.cfg.Personalization.Rank,
		embedder.Dimensions(),
		embedder.Dimensions(),
		rt.cfg.Personalization.TrainingInterval,
		log,
	)
	scheduler.Start()
	defer scheduler.Stop()

	log.Info("serve started", "data_dir", rt.dataDir)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	writer := bufio.NewWriter(cmd.OutOrStdout())
	defer writer.Flush()

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req rpcRequest
		if err := decodeRPCRequest(line, &req); err != nil {
			writeRPCError(writer, nil, err)
			continue
		}

		if req.Method != "search" && req.Method != "" {
			writeRPCError(writer, req.ID, fmt.Errorf("unknown method %q", req.Method))
			continue
		}

		reqCtx, cancel := context.WithTimeout(ctx, rt.cfg.Search.Timeout+time.Second)
		resp, err := orch.Search(reqCtx, req.Params)
		cancel()

		if err != nil {
			writeRPCError(writer, req.ID, err)
			continue
		}

		writeRPCResult(writer, req.ID, resp)
	}

	return scanner.Err()
}

// decodeRPCRequest parses one request line with DisallowUnknownFields so an
// unrecognized field anywhere in the envelope — including an unknown filter
// key nested under params.filters — is rejected up front rather than
// silently dropped. Any decode failure is surfaced as InvalidRequest.
func decodeRPCRequest(line []byte, req *rpcRequest) error {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		return coreerrors.InvalidRequest(fmt.Sprintf("malformed request: %s", err), err)
	}
	return nil
}

func writeRPCResult(w *bufio.Writer, id json.RawMessage, resp model.SearchResponse) {
	line, err := json.Marshal(rpcResponse{ID: id, Result: &resp})
	if err != nil {
		return
	}
	w.Write(line)
	w.WriteByte('\n')
	w.Flush()
}

func writeRPCError(w *bufio.Writer, id json.RawMessage, err error) {
	line, marshalErr := json.Marshal(rpcResponse{ID: id, Error: describeErr(err)})
	if marshalErr != nil {
		return
	}
	w.Write(line)
	w.WriteByte('\n')
	w.Flush()
}

func describeErr(err error) string {
	if kind := coreerrors.GetKind(err); kind != "" {
		return string(kind) + ": " + err.Error()
	}
	return err.Error()
}

// noopEventSource reports no pending training batches. A real deployment
// wires an out-of-band activity-event consumer here; activity events are
// consumed, never produced, by the core, so this harness has nothing to
// feed it.
type noopEventSource struct{}

func (noopEventSource) PendingBatches(ctx context.Context) (map[personalize.UserAdapterKey][]model.ActivityEvent, error) {
	return nil, nil
}

// contentEmbedFn resolves a content id's embedding from the open vector
// store for the training scheduler's gradient step, re-embedding from the
// catalog record's text would require round-tripping the embedder; the
// indexed vector is already the representation the reranker's cosine
// comparisons use.
func contentEmbedFn(rt *runtime) personalize.ContentEmbedFn {
	return func(contentID string) ([]float32, error) {
		items := rt.vectors.GetMany([]string{contentID})
		item, ok := items[contentID]
		if !ok {
			return nil, fmt.Errorf("content %s not found in vector store", contentID)
		}
		return item.Embedding, nil
	}
}
