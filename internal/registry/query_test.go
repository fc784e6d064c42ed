package registry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	xerrors "AgentLedger-Chain/internal/errors"
)

func u32(v uint32) *uint32 { return &v }

func TestClampLimit(t *testing.T) {
	t.Parallel()

	require.Equal(t, DefaultLimit, clampLimit(nil))
	require.Equal(t, DefaultLimit, clampLimit(u32(0)))
	require.Equal(t, 7, clampLimit(u32(7)))
	require.Equal(t, MaxLimit, clampLimit(u32(5000)))
}

func TestConfigAndAgentListing(t *testing.T) {
	l := newLedger(t, 250)
	ids := []string{
		l.register("o1", "One", 0),
		l.register("o2", "Two", 0),
		l.register("o3", "Three", 0),
	}
	_, err := l.exec("o1", nil, ExecuteMsg{RegisterAgent: &RegisterAgent{Name: "Dup"}})
	require.Equal(t, xerrors.CodeAlreadyExists, xerrors.CodeOf(err))
	_, err = l.exec("o4", nil, ExecuteMsg{RegisterAgent: &RegisterAgent{Name: "bad/name"}})
	require.Equal(t, xerrors.CodeInvalidInput, xerrors.CodeOf(err))

	var cfg ConfigResponse
	l.query(QueryMsg{Config: &struct{}{}}, &cfg)
	require.Equal(t, uint64(3), cfg.TotalAgents)
	require.Equal(t, uint64(250), cfg.FeeBps)
	require.Equal(t, "admin", cfg.Admin)

	var page AgentsResponse
	l.query(QueryMsg{ListAgents: &ListAgentsQuery{Limit: u32(2)}}, &page)
	require.Len(t, page.Agents, 2)
	var rest AgentsResponse
	l.query(QueryMsg{ListAgents: &ListAgentsQuery{StartAfter: page.Agents[1].AgentID}}, &rest)
	require.Len(t, rest.Agents, 1)

	seen := map[string]bool{}
	for _, a := range append(page.Agents, rest.Agents...) {
		seen[a.AgentID] = true
		require.Equal(t, InitialReputation, a.ReputationScore)
	}
	for _, id := range ids {
		require.True(t, seen[id], id)
	}

	agent := l.agent(ids[0])
	require.Equal(t, WalletAddress(ids[0]), agent.WalletAddress)
	require.Regexp(t, `^0x[0-9a-fA-F]{40}$`, agent.WalletAddress)
}

func TestCapabilityIndexFollowsUpdates(t *testing.T) {
	l := newLedger(t, 0)
	a := l.register("o1", "A", 0, "nlp", "vision", "nlp")
	b := l.register("o2", "B", 0, "nlp")

	byCap := func(tag string) []string {
		var out CapabilityResponse
		l.query(QueryMsg{AgentsByCapability: &AgentsByCapabilityQuery{Capability: tag}}, &out)
		ids := []string{}
		for _, info := range out.Agents {
			ids = append(ids, info.AgentID)
		}
		return ids
	}
	require.ElementsMatch(t, []string{a, b}, byCap("nlp"))
	require.Equal(t, []string{a}, byCap("vision"))
	require.Equal(t, []string{"nlp", "vision"}, l.agent(a).Capabilities)

	caps := []string{"audio"}
	l.mustExec("o1", nil, ExecuteMsg{UpdateAgent: &UpdateAgent{AgentID: a, Capabilities: &caps}})
	require.Equal(t, []string{b}, byCap("nlp"))
	require.Empty(t, byCap("vision"))
	require.Equal(t, []string{a}, byCap("audio"))
}

func TestCapabilityTagsAreLengthBounded(t *testing.T) {
	l := newLedger(t, 0)
	longest := strings.Repeat("a", MaxTagLength)
	b := l.register("o2", "B", 0, longest)

	_, err := l.exec("o1", nil, ExecuteMsg{RegisterAgent: &RegisterAgent{
		Name: "A", Capabilities: []string{strings.Repeat("a", 70000)},
	}})
	require.Equal(t, xerrors.CodeInvalidInput, xerrors.CodeOf(err))
	require.Equal(t, uint64(2), l.config().NextAgentID)

	caps := []string{strings.Repeat("b", MaxTagLength+1)}
	_, err = l.exec("o2", nil, ExecuteMsg{UpdateAgent: &UpdateAgent{AgentID: b, Capabilities: &caps}})
	require.Equal(t, xerrors.CodeInvalidInput, xerrors.CodeOf(err))

	_, err = l.exec("admin", nil, ExecuteMsg{RegisterServiceType: &RegisterServiceType{
		Name: "oversized", RequiredCapabilities: caps,
	}})
	require.Equal(t, xerrors.CodeInvalidInput, xerrors.CodeOf(err))

	var out CapabilityResponse
	l.query(QueryMsg{AgentsByCapability: &AgentsByCapabilityQuery{Capability: longest}}, &out)
	require.Len(t, out.Agents, 1)
	require.Equal(t, b, out.Agents[0].AgentID)
	require.Equal(t, []string{longest}, l.agent(b).Capabilities)
}

func TestTransactionHistoryIsNewestFirst(t *testing.T) {
	l := newLedger(t, 0)
	x := l.register("o1", "X", 100)
	y := l.register("o2", "Y", 0)
	for i := 0; i < 4; i++ {
		l.mustExec("o1", nil, ExecuteMsg{AgentTransfer: &AgentTransfer{FromAgentID: x, ToAgentID: y, Amount: amount(5)}})
	}

	var page TransactionsResponse
	l.query(QueryMsg{TransactionHistory: &TransactionHistoryQuery{AgentID: x, Limit: u32(3)}}, &page)
	require.Len(t, page.Transactions, 3)
	require.Equal(t, uint64(5), page.Transactions[0].ID)
	require.Equal(t, uint64(3), page.Transactions[2].ID)
	require.Equal(t, "Agent transfer", *page.Transactions[0].Memo)

	cursor := page.Transactions[2].ID
	var next TransactionsResponse
	l.query(QueryMsg{TransactionHistory: &TransactionHistoryQuery{AgentID: x, StartAfter: &cursor}}, &next)
	require.Len(t, next.Transactions, 2)
	require.Equal(t, uint64(2), next.Transactions[0].ID)
	require.Equal(t, TxDeposit, next.Transactions[1].Type)

	_, err := l.contract.Query(l.backend, l.env, QueryMsg{TransactionHistory: &TransactionHistoryQuery{AgentID: "agent-none"}})
	require.Equal(t, xerrors.CodeNotFound, xerrors.CodeOf(err))
}

func TestMessagingRules(t *testing.T) {
	l := newLedger(t, 0)
	x := l.register("o1", "X", 0)
	y := l.register("o2", "Y", 0)
	z := l.register("o3", "Z", 0)

	send := func(owner, from, to string, kind MessageType, needsReply bool) string {
		resp := l.mustExec(owner, nil, ExecuteMsg{SendMessage: &SendMessage{
			FromAgentID: from, ToAgentID: to, MessageType: kind, Content: "hi", RequiresResponse: needsReply,
		}})
		return resp.Attr("message_id")
	}
	m1 := send("o1", x, y, TypeOf(KindNegotiation), true)
	m2 := send("o2", y, x, TypeOf(KindInformation), false)
	m3 := send("o1", x, x, CustomType("Memo"), false)
	require.Equal(t, "msg_1", m1)
	require.Equal(t, "msg_3", m3)

	_, err := l.exec("o3", nil, ExecuteMsg{RespondToMessage: &RespondToMessage{MessageID: m1, FromAgentID: z, ResponseContent: "no"}})
	require.Equal(t, xerrors.CodeUnauthorized, xerrors.CodeOf(err))
	_, err = l.exec("o3", nil, ExecuteMsg{RespondToMessage: &RespondToMessage{MessageID: m1, FromAgentID: y, ResponseContent: "no"}})
	require.Equal(t, xerrors.CodeUnauthorized, xerrors.CodeOf(err))
	_, err = l.exec("o1", nil, ExecuteMsg{RespondToMessage: &RespondToMessage{MessageID: m2, FromAgentID: x, ResponseContent: "no"}})
	require.Equal(t, xerrors.CodeInvalidState, xerrors.CodeOf(err))
	l.mustExec("o2", nil, ExecuteMsg{RespondToMessage: &RespondToMessage{MessageID: m1, FromAgentID: y, ResponseContent: "deal"}})

	var stored AgentMessage
	l.query(QueryMsg{Message: &MessageQuery{MessageID: m1}}, &stored)
	require.NotNil(t, stored.Response)
	require.Equal(t, "deal", stored.Response.Content)

	var all MessagesResponse
	l.query(QueryMsg{AgentMessages: &AgentMessagesQuery{AgentID: x}}, &all)
	require.Len(t, all.Messages, 3)
	require.Equal(t, []string{m1, m2, m3}, []string{all.Messages[0].ID, all.Messages[1].ID, all.Messages[2].ID})

	var after MessagesResponse
	l.query(QueryMsg{AgentMessages: &AgentMessagesQuery{AgentID: x, StartAfter: m1}}, &after)
	require.Len(t, after.Messages, 2)

	custom := CustomType("Memo")
	var filtered MessagesResponse
	l.query(QueryMsg{AgentMessages: &AgentMessagesQuery{AgentID: x, MessageType: &custom}}, &filtered)
	require.Len(t, filtered.Messages, 1)
	require.Equal(t, m3, filtered.Messages[0].ID)

	l.mustExec("o3", nil, ExecuteMsg{DeactivateAgent: &DeactivateAgent{AgentID: z}})
	_, err = l.exec("o1", nil, ExecuteMsg{SendMessage: &SendMessage{FromAgentID: x, ToAgentID: z, MessageType: TypeOf(KindAlert)}})
	require.Equal(t, xerrors.CodeInactiveEntity, xerrors.CodeOf(err))
}

func TestQueryRejectsAmbiguousMessages(t *testing.T) {
	l := newLedger(t, 0)
	_, err := l.contract.Query(l.backend, l.env, QueryMsg{})
	require.Equal(t, xerrors.CodeInvalidInput, xerrors.CodeOf(err))
	_, err = l.contract.Query(l.backend, l.env, QueryMsg{Config: &struct{}{}, ServiceTypes: &struct{}{}})
	require.Equal(t, xerrors.CodeInvalidInput, xerrors.CodeOf(err))

	_, err = l.exec("admin", nil, ExecuteMsg{})
	require.Equal(t, xerrors.CodeInvalidInput, xerrors.CodeOf(err))
	_, err = l.exec("", nil, ExecuteMsg{FundAgent: &FundAgent{AgentID: "x"}})
	require.Equal(t, xerrors.CodeUnauthorized, xerrors.CodeOf(err))
}
