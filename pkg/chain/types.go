package chain

import (
	"encoding/json"
	"strconv"
)

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// UnmarshalJSON accepts tokenAmount as either a bare number or an
// {amount, decimals} object, per spec.md §4.3's normalization rule.
func (r *RawAmount) UnmarshalJSON(data []byte) error {
	var scalar float64
	if err := json.Unmarshal(data, &scalar); err == nil {
		r.Scalar = scalar
		return nil
	}

	var obj struct {
		Amount   string `json:"amount"`
		Decimals int    `json:"decimals"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.Amount = obj.Amount
	r.Decimals = obj.Decimals
	return nil
}

// NativeTransfer is one native-SOL leg of a parsed transaction.
type NativeTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	Amount          uint64 `json:"amount"` // lamports
}

// RawAmount models the enhanced API's tokenAmount field, which is
// either a bare number or an {amount, decimals} object depending on
// provider; TxParser normalizes both shapes via Float().
type RawAmount struct {
	Amount   string `json:"amount,omitempty"`
	Decimals int    `json:"decimals,omitempty"`
	// Scalar is set when the provider sent a bare numeric value instead
	// of the {amount, decimals} object.
	Scalar float64
}

// Float normalizes either shape to a UI-scaled amount: raw/10^decimals
// for the {amount, decimals} object form, or Scalar directly otherwise.
func (r RawAmount) Float() float64 {
	if r.Amount == "" {
		return r.Scalar
	}
	raw, err := parseFloat(r.Amount)
	if err != nil {
		return r.Scalar
	}
	scale := 1.0
	for i := 0; i < r.Decimals; i++ {
		scale *= 10
	}
	return raw / scale
}

// TokenTransfer is one SPL-token leg of a parsed transaction.
type TokenTransfer struct {
	FromUserAccount string    `json:"fromUserAccount"`
	ToUserAccount   string    `json:"toUserAccount"`
	Mint            string    `json:"mint"`
	TokenAmount     RawAmount `json:"tokenAmount"`
}

// EnhancedParsed is the provider-pre-extracted "enhanced" transaction
// shape (tokenTransfers/nativeTransfers already split out), preferred
// whenever a parse-provider key pool supports it.
type EnhancedParsed struct {
	Signature       string           `json:"signature"`
	Timestamp       int64            `json:"timestamp"`
	Description     string           `json:"description"`
	Type            string           `json:"type"`
	FeePayer        string           `json:"feePayer"`
	NativeTransfers []NativeTransfer `json:"nativeTransfers"`
	TokenTransfers  []TokenTransfer  `json:"tokenTransfers"`
}

// RawRpc is the fallback shape when no enhanced-parse provider is
// available: the caller walks raw getTransaction results instead. The
// FromRaw adapter below reduces it to the same TxView the parser consumes.
type RawRpc struct {
	Signature      string
	Timestamp      int64
	FeePayer       string
	PreBalances    []uint64
	PostBalances   []uint64
	AccountKeys    []string
	PreTokenBals   []RawTokenBalance
	PostTokenBals  []RawTokenBalance
	LogMessages    []string
}

// RawTokenBalance is one entry of a getTransaction pre/postTokenBalances list.
type RawTokenBalance struct {
	AccountIndex int
	Owner        string
	Mint         string
	UIAmount     float64
	Decimals     int
}

// TxView is the common view TxParser consumes, produced by the adapter
// from either EnhancedParsed or RawRpc — the tagged-union-to-common-type
// collapse named in the design notes.
type TxView struct {
	Signature       string
	Timestamp       int64
	FeePayer        string
	Description     string
	Type            string
	NativeTransfers []NativeTransfer
	TokenTransfers  []TokenTransfer
	InvolvedAccounts map[string]bool
}

// FromEnhanced adapts an EnhancedParsed transaction into a TxView.
func FromEnhanced(e EnhancedParsed) TxView {
	v := TxView{
		Signature:       e.Signature,
		Timestamp:       e.Timestamp,
		FeePayer:        e.FeePayer,
		Description:     e.Description,
		Type:            e.Type,
		NativeTransfers: e.NativeTransfers,
		TokenTransfers:  e.TokenTransfers,
	}
	v.InvolvedAccounts = make(map[string]bool)
	if e.FeePayer != "" {
		v.InvolvedAccounts[e.FeePayer] = true
	}
	for _, nt := range e.NativeTransfers {
		v.InvolvedAccounts[nt.FromUserAccount] = true
		v.InvolvedAccounts[nt.ToUserAccount] = true
	}
	for _, tt := range e.TokenTransfers {
		v.InvolvedAccounts[tt.FromUserAccount] = true
		v.InvolvedAccounts[tt.ToUserAccount] = true
	}
	return v
}

// FromRaw adapts a RawRpc transaction into a TxView by diffing
// pre/post balances, used when the parse-provider pool has no enhanced
// support.
func FromRaw(r RawRpc) TxView {
	v := TxView{
		Signature:        r.Signature,
		Timestamp:        r.Timestamp,
		FeePayer:         r.FeePayer,
		InvolvedAccounts: make(map[string]bool),
	}
	if r.FeePayer != "" {
		v.InvolvedAccounts[r.FeePayer] = true
	}

	for i, key := range r.AccountKeys {
		if i >= len(r.PreBalances) || i >= len(r.PostBalances) {
			continue
		}
		delta := int64(r.PostBalances[i]) - int64(r.PreBalances[i])
		if delta == 0 {
			continue
		}
		v.InvolvedAccounts[key] = true
		if delta < 0 {
			v.NativeTransfers = append(v.NativeTransfers, NativeTransfer{
				FromUserAccount: key,
				Amount:          uint64(-delta),
			})
		} else {
			v.NativeTransfers = append(v.NativeTransfers, NativeTransfer{
				ToUserAccount: key,
				Amount:        uint64(delta),
			})
		}
	}

	postByKey := make(map[string]RawTokenBalance)
	for _, b := range r.PostTokenBals {
		postByKey[b.Owner+":"+b.Mint] = b
	}
	preByKey := make(map[string]RawTokenBalance)
	for _, b := range r.PreTokenBals {
		preByKey[b.Owner+":"+b.Mint] = b
	}
	for key, post := range postByKey {
		pre := preByKey[key]
		delta := post.UIAmount - pre.UIAmount
		if delta == 0 {
			continue
		}
		v.InvolvedAccounts[post.Owner] = true
		tt := TokenTransfer{
			Mint: post.Mint,
			TokenAmount: RawAmount{
				Scalar: absFloat(delta),
			},
		}
		if delta < 0 {
			tt.FromUserAccount = post.Owner
		} else {
			tt.ToUserAccount = post.Owner
		}
		v.TokenTransfers = append(v.TokenTransfers, tt)
	}

	return v
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
