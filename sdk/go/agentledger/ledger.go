package agentledger

import "context"

// RegisterAgentRequest registers a new agent owned by the caller.
type RegisterAgentRequest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Capabilities   []string `json:"capabilities,omitempty"`
	Endpoints      []string `json:"service_endpoints,omitempty"`
	InitialBalance *Coin    `json:"initial_balance,omitempty"`
}

// Balance mirrors the agent_balance query response.
type Balance struct {
	AgentID   string `json:"agent_id"`
	Balance   Coin   `json:"balance"`
	Locked    Coin   `json:"locked_balance"`
	Available Coin   `json:"available_balance"`
}

// RegisterAgent registers an agent and returns its id. When the request
// carries an initial balance the same coin is attached as funds.
func (c *Client) RegisterAgent(ctx context.Context, req RegisterAgentRequest) (string, error) {
	var funds []Coin
	if req.InitialBalance != nil {
		funds = []Coin{*req.InitialBalance}
	}
	res, err := c.Execute(ctx, "register_agent", req, funds...)
	if err != nil {
		return "", err
	}
	return res.Attr("agent_id"), nil
}

// FundAgent deposits funds into an agent wallet owned by the caller.
func (c *Client) FundAgent(ctx context.Context, agentID string, funds ...Coin) (*Result, error) {
	return c.Execute(ctx, "fund_agent", map[string]string{"agent_id": agentID}, funds...)
}

// Transfer moves funds between two agent wallets.
func (c *Client) Transfer(ctx context.Context, fromAgentID, toAgentID string, amount Coin) (*Result, error) {
	return c.Execute(ctx, "agent_transfer", map[string]any{
		"from_agent_id": fromAgentID,
		"to_agent_id":   toAgentID,
		"amount":        amount,
	})
}

// RequestService locks payment in escrow and returns the service id.
func (c *Client) RequestService(ctx context.Context, requesterID, providerID, serviceType string, payment Coin) (string, error) {
	res, err := c.Execute(ctx, "request_service", map[string]any{
		"requester_agent_id": requesterID,
		"provider_agent_id":  providerID,
		"service_type":       serviceType,
		"payment":            payment,
	})
	if err != nil {
		return "", err
	}
	return res.Attr("service_id"), nil
}

// CompleteService releases escrow to the provider.
func (c *Client) CompleteService(ctx context.Context, serviceID, result string) (*Result, error) {
	return c.Execute(ctx, "complete_service", map[string]string{"service_id": serviceID, "result": result})
}

// AgentBalance returns the wallet balances of an agent.
func (c *Client) AgentBalance(ctx context.Context, agentID string) (Balance, error) {
	var b Balance
	err := c.Query(ctx, "agent_balance", map[string]string{"agent_id": agentID}, &b)
	return b, err
}
