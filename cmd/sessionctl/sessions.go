package main

import (
	"fmt"
	"io"

	"github.com/go-resty/resty/v2"
)

func newClient(apiURL, userID string) *resty.Client {
	return resty.New().
		SetBaseURL(apiURL).
		SetHeader("X-User-ID", userID).
		SetHeader("Content-Type", "application/json")
}

func printResponse(out io.Writer, resp *resty.Response) error {
	if resp.IsError() {
		return fmt.Errorf("http %d: %s", resp.StatusCode(), resp.String())
	}
	_, err := fmt.Fprintln(out, resp.String())
	return err
}

func runCreate(apiURL, userID, title, message string, timeout int, out io.Writer) error {
	payload := map[string]interface{}{}
	if title != "" {
		payload["title"] = title
	}
	if message != "" {
		payload["initialMessage"] = message
	}
	if timeout > 0 {
		payload["timeoutMinutes"] = timeout
	}
	resp, err := newClient(apiURL, userID).R().SetBody(payload).Post("/api/v1/sessions")
	if err != nil {
		return err
	}
	return printResponse(out, resp)
}

func runList(apiURL, userID, status, query string, out io.Writer) error {
	req := newClient(apiURL, userID).R()
	if status != "" {
		req.SetQueryParam("status", status)
	}
	if query != "" {
		req.SetQueryParam("q", query)
	}
	resp, err := req.Get("/api/v1/sessions")
	if err != nil {
		return err
	}
	return printResponse(out, resp)
}

func runGet(apiURL, userID, sessionID string, out io.Writer) error {
	resp, err := newClient(apiURL, userID).R().Get("/api/v1/sessions/" + sessionID)
	if err != nil {
		return err
	}
	return printResponse(out, resp)
}

func runDelete(apiURL, userID, sessionID string, out io.Writer) error {
	resp, err := newClient(apiURL, userID).R().Delete("/api/v1/sessions/" + sessionID)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("http %d: %s", resp.StatusCode(), resp.String())
	}
	_, err = fmt.Fprintln(out, "deleted")
	return err
}

func runHeartbeat(apiURL, userID, sessionID string, out io.Writer) error {
	resp, err := newClient(apiURL, userID).R().Post("/api/v1/sessions/" + sessionID + "/heartbeat")
	if err != nil {
		return err
	}
	return printResponse(out, resp)
}

func runSay(apiURL, userID, sessionID, role, content string, out io.Writer) error {
	resp, err := newClient(apiURL, userID).R().
		SetBody(map[string]interface{}{"role": role, "content": content}).
		Post("/api/v1/sessions/" + sessionID + "/messages")
	if err != nil {
		return err
	}
	return printResponse(out, resp)
}
