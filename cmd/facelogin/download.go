package main

import (
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/net/proxy"

	"github.com/MrCodeEU/facelogin/pkg/logging"
)

const cascadeURL = "https://raw.githubusercontent.com/esimov/pigo/master/cascade/facefinder"

// modelFile is one downloadable detector resource.
type modelFile struct {
	Name string
	URL  string
	// Bzip2 marks files served compressed.
	Bzip2 bool
}

var dlibModels = []modelFile{
	{
		Name:  "shape_predictor_5_face_landmarks.dat",
		URL:   "http://dlib.net/files/shape_predictor_5_face_landmarks.dat.bz2",
		Bzip2: true,
	},
	{
		Name:  "dlib_face_recognition_resnet_model_v1.dat",
		URL:   "http://dlib.net/files/dlib_face_recognition_resnet_model_v1.dat.bz2",
		Bzip2: true,
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download-cascade",
	Short: "Download the face detector resources",
	Long: `Download-cascade fetches the pigo facefinder cascade to
detection.cascade_path. With --dlib it also fetches the dlib models used by
the optional dlib detector backend.`,
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().Bool("dlib", false, "Also download the dlib detector models")
	downloadCmd.Flags().Bool("force", false, "Overwrite files that already exist")
	downloadCmd.Flags().String("proxy", "", "SOCKS5 or HTTP proxy URL, e.g. socks5://127.0.0.1:1080")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	client, err := newHTTPClient(mustGetString(cmd, "proxy"))
	if err != nil {
		return err
	}

	force := mustGetBool(cmd, "force")
	out := cmd.OutOrStdout()

	targets := []struct {
		file modelFile
		path string
	}{
		{file: modelFile{Name: "facefinder", URL: cascadeURL}, path: cfg.Detection.CascadePath},
	}
	if mustGetBool(cmd, "dlib") {
		for _, m := range dlibModels {
			targets = append(targets, struct {
				file modelFile
				path string
			}{file: m, path: filepath.Join(cfg.Detection.DlibModelPath, m.Name)})
		}
	}

	for _, t := range targets {
		if !force {
			if _, err := os.Stat(t.path); err == nil {
				logging.Infof("%s already exists, skipping", t.path)
				continue
			}
		}

		logging.Infof("Downloading %s...", t.file.Name)
		if err := download(cmd.Context(), client, t.file, t.path, out); err != nil {
			return fmt.Errorf("failed to download %s: %w", t.file.Name, err)
		}
		logging.Infof("Successfully downloaded %s", t.file.Name)
	}
	return nil
}

// newHTTPClient creates a client, optionally routed through a proxy.
func newHTTPClient(proxyURL string) (*http.Client, error) {
	client := &http.Client{Timeout: 10 * time.Minute}
	if proxyURL == "" {
		return client, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch u.Scheme {
	case "socks5":
		dialer, err := proxy.SOCKS5("tcp", u.Host, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		client.Transport = &http.Transport{Dial: dialer.Dial}
	case "http", "https":
		client.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s (supported: socks5, http, https)", u.Scheme)
	}
	return client, nil
}

// download fetches f into targetPath through a temporary file so a failed
// transfer never leaves a truncated resource behind.
func download(ctx context.Context, client *http.Client, f modelFile, targetPath string, progress io.Writer) error {
	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(targetPath), "."+filepath.Base(targetPath)+"-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	bar := progressbar.NewOptions64(resp.ContentLength,
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription(f.Name),
		progressbar.OptionShowBytes(true),
	)

	var body io.Reader = io.TeeReader(resp.Body, bar)
	if f.Bzip2 {
		body = bzip2.NewReader(body)
	}

	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		return err
	}
	_ = bar.Finish()
	fmt.Fprintln(progress)

	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), targetPath)
}
