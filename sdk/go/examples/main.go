package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"

	"AgentLedger-Chain/internal/api"
	"AgentLedger-Chain/internal/host"
	"AgentLedger-Chain/internal/kv"
	"AgentLedger-Chain/internal/registry"
	"AgentLedger-Chain/sdk/go/agentledger"
)

func main() {
	rt, err := host.New(kv.NewMemoryBackend(), registry.New())
	if err != nil {
		panic(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.EnsureInstantiated(ctx, "admin", registry.InstantiateMsg{SettlementDenom: "uusd", FeeBps: 100}); err != nil {
		panic(err)
	}

	srv := httptest.NewServer(api.NewServer(":0", rt).Handler())
	defer srv.Close()

	buyer, err := agentledger.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	buyer.SetCaller("alice")
	seller, err := agentledger.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	seller.SetCaller("bob")

	a, err := buyer.RegisterAgent(ctx, agentledger.RegisterAgentRequest{
		Name:           "Planner",
		InitialBalance: &agentledger.Coin{Denom: "uusd", Amount: "500"},
	})
	if err != nil {
		panic(err)
	}
	b, err := seller.RegisterAgent(ctx, agentledger.RegisterAgentRequest{Name: "Summarizer", Capabilities: []string{"nlp"}})
	if err != nil {
		panic(err)
	}
	fmt.Printf("registered %s and %s\n", a, b)

	svc, err := buyer.RequestService(ctx, a, b, "summarize", agentledger.Coin{Denom: "uusd", Amount: "200"})
	if err != nil {
		panic(err)
	}
	res, err := seller.CompleteService(ctx, svc, "summary.txt")
	if err != nil {
		panic(err)
	}
	fmt.Printf("service %s settled at height %d (fee=%s)\n", svc, res.Height, res.Attr("fee"))

	bal, err := seller.AgentBalance(ctx, b)
	if err != nil {
		panic(err)
	}
	fmt.Printf("provider balance %s%s\n", bal.Balance.Amount, bal.Balance.Denom)
}
