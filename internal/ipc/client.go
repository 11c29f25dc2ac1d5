package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Submit enqueues a new job.
func (c *Client) Submit(reference, format string) (*SubmitResponse, error) {
	var resp SubmitResponse
	req := SubmitRequest{Reference: reference, Format: format}
	if err := c.client.Call("Mediamill.Submit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop processing.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Mediamill.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Mediamill.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueList returns jobs optionally filtered by statuses.
func (c *Client) QueueList(statuses []string) (*QueueListResponse, error) {
	var resp QueueListResponse
	req := QueueListRequest{Statuses: statuses}
	if err := c.client.Call("Mediamill.QueueList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueDescribe returns details for a single job.
func (c *Client) QueueDescribe(id int64) (*QueueDescribeResponse, error) {
	var resp QueueDescribeResponse
	if err := c.client.Call("Mediamill.QueueDescribe", QueueDescribeRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel requests cancellation of a job.
func (c *Client) Cancel(id int64) (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.client.Call("Mediamill.Cancel", CancelRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueRetry retries failed jobs.
func (c *Client) QueueRetry(ids []int64) (*QueueRetryResponse, error) {
	var resp QueueRetryResponse
	if err := c.client.Call("Mediamill.QueueRetry", QueueRetryRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueRemove deletes a job.
func (c *Client) QueueRemove(id int64) (*QueueRemoveResponse, error) {
	var resp QueueRemoveResponse
	if err := c.client.Call("Mediamill.QueueRemove", QueueRemoveRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueClear removes all jobs from the queue.
func (c *Client) QueueClear() (*QueueClearResponse, error) {
	var resp QueueClearResponse
	if err := c.client.Call("Mediamill.QueueClear", QueueClearRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueClearCompleted removes only completed jobs from the queue.
func (c *Client) QueueClearCompleted() (*QueueClearCompletedResponse, error) {
	var resp QueueClearCompletedResponse
	if err := c.client.Call("Mediamill.QueueClearCompleted", QueueClearCompletedRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueClearFailed removes failed jobs from the queue.
func (c *Client) QueueClearFailed() (*QueueClearFailedResponse, error) {
	var resp QueueClearFailedResponse
	if err := c.client.Call("Mediamill.QueueClearFailed", QueueClearFailedRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueReset rolls in-flight jobs back to their previous stage.
func (c *Client) QueueReset() (*QueueResetResponse, error) {
	var resp QueueResetResponse
	if err := c.client.Call("Mediamill.QueueReset", QueueResetRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueHealth returns queue diagnostics.
func (c *Client) QueueHealth() (*QueueHealthResponse, error) {
	var resp QueueHealthResponse
	if err := c.client.Call("Mediamill.QueueHealth", QueueHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Mediamill.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
