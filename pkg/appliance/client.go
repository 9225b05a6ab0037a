// Package appliance controls hardware recording appliances over their
// basic-auth HTTP API.
package appliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"recording-orchestrator/dto"
	"recording-orchestrator/pkg/retry"
	"strings"
	"time"
)

var ErrUnknownDevice = errors.New("appliance not configured")

// Device is one configured appliance. Channel is the recorder id on the device.
type Device struct {
	Id       string
	URL      string
	User     string
	Password string
	Channel  string
}

type Client struct {
	devices map[string]Device
	client  *http.Client
}

func New(devices []Device, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	byId := make(map[string]Device, len(devices))
	for _, d := range devices {
		d.URL = strings.TrimRight(d.URL, "/")
		if d.Channel == "" {
			d.Channel = "1"
		}
		byId[d.Id] = d
	}
	return &Client{devices: byId, client: client}
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

type archiveEntry struct {
	Id      string `json:"id"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Created int64  `json:"created"`
}

func (c *Client) StartRecording(ctx context.Context, deviceId string) error {
	return c.control(ctx, deviceId, "start")
}

func (c *Client) StopRecording(ctx context.Context, deviceId string) error {
	return c.control(ctx, deviceId, "stop")
}

func (c *Client) control(ctx context.Context, deviceId string, action string) error {
	device, err := c.device(deviceId)
	if err != nil {
		return err
	}
	op := "appliance." + action
	path := fmt.Sprintf("/api/v2.0/recorders/%s/control/%s", url.PathEscape(device.Channel), action)
	_, err = c.call(ctx, op, device, http.MethodPost, path)
	return err
}

func (c *Client) Ping(ctx context.Context, deviceId string) error {
	device, err := c.device(deviceId)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, "appliance.ping", device, http.MethodGet, "/api/v2.0/system/status")
	return err
}

func (c *Client) ListArchive(ctx context.Context, deviceId string) ([]dto.ArchiveFile, error) {
	device, err := c.device(deviceId)
	if err != nil {
		return nil, err
	}
	op := "appliance.archive"
	path := fmt.Sprintf("/api/v2.0/recorders/%s/archive/files", url.PathEscape(device.Channel))
	result, err := c.call(ctx, op, device, http.MethodGet, path)
	if err != nil {
		return nil, err
	}

	var entries []archiveEntry
	if err := json.Unmarshal(result, &entries); err != nil {
		return nil, retry.ClientSide(op, fmt.Errorf("decode archive: %w", err))
	}
	files := make([]dto.ArchiveFile, 0, len(entries))
	for _, e := range entries {
		files = append(files, dto.ArchiveFile{
			Id:      e.Id,
			Name:    e.Name,
			Size:    e.Size,
			Created: time.Unix(e.Created, 0),
		})
	}
	return files, nil
}

// DownloadArchive writes file to dest through a temporary file, so dest only
// ever holds complete downloads.
func (c *Client) DownloadArchive(ctx context.Context, deviceId string, file dto.ArchiveFile, dest string) error {
	device, err := c.device(deviceId)
	if err != nil {
		return err
	}
	op := "appliance.download"
	path := fmt.Sprintf("/api/v2.0/recorders/%s/archive/files/%s", url.PathEscape(device.Channel), url.PathEscape(file.Id))
	req, err := c.newRequest(ctx, op, device, http.MethodGet, path)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return retry.NoResponse(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &retry.StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return retry.ClientSide(op, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return retry.NoResponse(op, err)
	}
	if err := tmp.Close(); err != nil {
		return retry.ClientSide(op, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return retry.ClientSide(op, err)
	}
	return nil
}

func (c *Client) device(deviceId string) (Device, error) {
	device, ok := c.devices[deviceId]
	if !ok {
		return Device{}, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceId)
	}
	return device, nil
}

func (c *Client) newRequest(ctx context.Context, op string, device Device, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, device.URL+path, nil)
	if err != nil {
		return nil, retry.ClientSide(op, err)
	}
	req.SetBasicAuth(device.User, device.Password)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// call executes a JSON API request and returns the result payload.
func (c *Client) call(ctx context.Context, op string, device Device, method, path string) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, op, device, method, path)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, retry.NoResponse(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, retry.NoResponse(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &retry.StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var env envelope
	if len(body) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, retry.ClientSide(op, fmt.Errorf("decode response: %w", err))
	}
	if env.Status != "" && env.Status != "ok" {
		return nil, &retry.StatusError{Op: op, Status: http.StatusBadGateway, Body: env.Message}
	}
	return env.Result, nil
}
