package ton

// Response shapes for the TONCenter HTTP API. Only the fields the adapter
// reads are declared.

// walletInformationResponse is the v2 getWalletInformation envelope.
type walletInformationResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		Balance       string `json:"balance"`
		AccountState  string `json:"account_state"`
		LastBlockTime int64  `json:"last_transaction_lt,string,omitempty"`
	} `json:"result"`
	Error string `json:"error,omitempty"`
}

// transactionsResponse is the v3 transactions envelope.
type transactionsResponse struct {
	Transactions []apiTransaction              `json:"transactions"`
	AddressBook  map[string]addressBookEntry   `json:"address_book"`
}

type addressBookEntry struct {
	UserFriendly string `json:"user_friendly"`
}

type apiTransaction struct {
	Hash        string `json:"hash"`
	Now         int64  `json:"now"`
	InMsg       *inMsg `json:"in_msg"`
	Description struct {
		ComputePh struct {
			Success bool `json:"success"`
		} `json:"compute_ph"`
	} `json:"description"`
}

type inMsg struct {
	Source         string `json:"source"`
	Destination    string `json:"destination"`
	Value          string `json:"value"`
	MessageContent struct {
		Decoded *struct {
			Comment string `json:"comment"`
		} `json:"decoded"`
	} `json:"message_content"`
}
