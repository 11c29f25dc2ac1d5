// Package ipc exposes daemon control via JSON-RPC over a Unix domain socket.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"mediamill/internal/daemon"
	"mediamill/internal/logging"
	"mediamill/internal/queue"
)

// Server accepts RPC connections on a Unix socket and forwards requests to
// the daemon.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Mediamill", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check socket permissions"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Submit(req SubmitRequest, resp *SubmitResponse) error {
	job, err := s.daemon.Submit(s.ctx, req.Reference, req.Format)
	if err != nil {
		return err
	}
	resp.Job = FromJob(job)
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.LastError = status.LastError
	resp.LockPath = status.LockFilePath
	resp.QueueDBPath = status.QueueDBPath
	resp.WorkspaceBytes = status.WorkspaceBytes
	resp.FreeDiskBytes = status.FreeDiskBytes
	resp.PID = status.PID
	resp.QueueStats = make(map[string]int, len(status.QueueStats))
	for k, v := range status.QueueStats {
		resp.QueueStats[string(k)] = v
	}
	resp.StageHealth = make([]StageHealth, 0, len(status.StageHealth))
	for _, health := range status.StageHealth {
		resp.StageHealth = append(resp.StageHealth, StageHealth{
			Name:   health.Name,
			Ready:  health.Ready,
			Detail: health.Detail,
		})
	}
	resp.Dependencies = make([]DependencyStatus, 0, len(status.Dependencies))
	for _, dep := range status.Dependencies {
		resp.Dependencies = append(resp.Dependencies, DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return nil
}

func (s *service) QueueList(req QueueListRequest, resp *QueueListResponse) error {
	statuses := make([]queue.Status, 0, len(req.Statuses))
	for _, status := range req.Statuses {
		parsed, ok := queue.ParseStatus(status)
		if !ok {
			return fmt.Errorf("unknown status %q", status)
		}
		statuses = append(statuses, parsed)
	}
	jobs, err := s.daemon.ListQueue(s.ctx, statuses)
	if err != nil {
		return err
	}
	resp.Jobs = make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, FromJob(job))
	}
	return nil
}

func (s *service) QueueDescribe(req QueueDescribeRequest, resp *QueueDescribeResponse) error {
	if req.ID <= 0 {
		return fmt.Errorf("invalid job id %d", req.ID)
	}
	job, err := s.daemon.GetJob(s.ctx, req.ID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %d not found", req.ID)
	}
	resp.Job = FromJob(job)
	return nil
}

func (s *service) Cancel(req CancelRequest, resp *CancelResponse) error {
	if req.ID <= 0 {
		return fmt.Errorf("invalid job id %d", req.ID)
	}
	job, err := s.daemon.Cancel(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Job = FromJob(job)
	s.logger.Info("job cancellation requested",
		logging.Int64(logging.FieldJobID, req.ID),
		logging.String("status", string(job.Status)))
	return nil
}

func (s *service) QueueRetry(req QueueRetryRequest, resp *QueueRetryResponse) error {
	updated, err := s.daemon.RetryFailed(s.ctx, req.IDs)
	if err != nil {
		return err
	}
	resp.Updated = updated
	return nil
}

func (s *service) QueueRemove(req QueueRemoveRequest, resp *QueueRemoveResponse) error {
	if req.ID <= 0 {
		return fmt.Errorf("invalid job id %d", req.ID)
	}
	removed, err := s.daemon.RemoveJob(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

func (s *service) QueueClear(_ QueueClearRequest, resp *QueueClearResponse) error {
	removed, err := s.daemon.ClearQueue(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.logger.Info("queue cleared", logging.Int64("removed_count", removed))
	return nil
}

func (s *service) QueueClearCompleted(_ QueueClearCompletedRequest, resp *QueueClearCompletedResponse) error {
	removed, err := s.daemon.ClearCompleted(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

func (s *service) QueueClearFailed(_ QueueClearFailedRequest, resp *QueueClearFailedResponse) error {
	removed, err := s.daemon.ClearFailed(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

func (s *service) QueueReset(_ QueueResetRequest, resp *QueueResetResponse) error {
	updated, err := s.daemon.ResetStuck(s.ctx)
	if err != nil {
		return err
	}
	resp.Updated = updated
	return nil
}

func (s *service) QueueHealth(_ QueueHealthRequest, resp *QueueHealthResponse) error {
	health, err := s.daemon.QueueHealth(s.ctx)
	if err != nil {
		return err
	}
	resp.Total = health.Total
	resp.Pending = health.Pending
	resp.Processing = health.Processing
	resp.Failed = health.Failed
	resp.Completed = health.Completed
	resp.Cancelled = health.Cancelled
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
