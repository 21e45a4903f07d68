package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/bookqa/mcp"
)

var (
	serveTransport string
	serveAddr      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP tool server",
	Long: `Starts a Model Context Protocol server exposing the answer tool, and the
transcripts tool when a transcript backend is configured. The stdio transport
suits local assistants; the http transport serves streamable HTTP on --addr.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveTransport, "transport", "", "stdio or http (default from config)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address for the http transport")
	addCorpusFlag(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	server, err := mcp.NewServer(app.Answerer, app.Transcripts)
	if err != nil {
		return err
	}

	transport := serveTransport
	if transport == "" {
		transport = app.Config.MCP.Transport
	}
	addr := serveAddr
	if addr == "" {
		addr = app.Config.MCP.Addr
	}

	if transport == "http" {
		return server.RunHTTP(cmd.Context(), addr)
	}
	return server.Run(cmd.Context())
}
