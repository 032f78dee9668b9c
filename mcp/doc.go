// Package mcp exposes the tip.md tipping tools to AI agents over the Model
// Context Protocol.
//
// The tools are registered on an MCP go-sdk server and served either on stdio
// or as a streamable HTTP endpoint behind echo:
//
//	srv := mcp.NewServer(svc, mcp.Options{Logger: log})
//
//	// stdio, for agents that spawn the process
//	err := srv.RunStdio(ctx)
//
//	// streamable HTTP on /mcp, with /health
//	e := mcp.NewHTTPServer(srv, log)
//	err = e.Start(":5003")
//
// # Tools
//
//	check_balance     balance of the caller's custodial wallet, created on first use
//	export_wallet     private key, mnemonic and addresses of an existing wallet
//	withdraw          send USDC from the custodial wallet to an external address
//	tip               tip a tip.md user through the x402 settlement endpoint
//	get_wallet_types  networks a tip.md user can receive tips on
//	crypto_tip        instructions for tipping from a self-custodied wallet
//	ping              liveness check
//
// Every tool except ping answers with a structured result object carrying a
// success flag; failures are reported inside the result, not as tool errors.
package mcp
