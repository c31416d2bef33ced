package explorer

// Explorer is a block explorer for one chain
type Explorer struct {
	Name    string
	BaseURL string
}

var explorers = map[int64]Explorer{
	1:        {Name: "Etherscan", BaseURL: "https://etherscan.io"},
	10:       {Name: "Optimistic Etherscan", BaseURL: "https://optimistic.etherscan.io"},
	56:       {Name: "BscScan", BaseURL: "https://bscscan.com"},
	137:      {Name: "Polygonscan", BaseURL: "https://polygonscan.com"},
	42161:    {Name: "Arbiscan", BaseURL: "https://arbiscan.io"},
	8453:     {Name: "BaseScan", BaseURL: "https://basescan.org"},
	11155111: {Name: "Sepolia Etherscan", BaseURL: "https://sepolia.etherscan.io"},
	421614:   {Name: "Arbiscan (Sepolia)", BaseURL: "https://sepolia.arbiscan.io"},
}

// ForChain returns the explorer of chainID, if one is known
func ForChain(chainID int64) (Explorer, bool) {
	ex, ok := explorers[chainID]
	return ex, ok
}

// TxURL links to a transaction; empty when the chain or hash is unknown
func TxURL(chainID int64, hash string) string {
	ex, ok := ForChain(chainID)
	if !ok || hash == "" {
		return ""
	}
	return ex.BaseURL + "/tx/" + hash
}

// AddressURL links to an account or contract; empty when the chain or address is unknown
func AddressURL(chainID int64, address string) string {
	ex, ok := ForChain(chainID)
	if !ok || address == "" {
		return ""
	}
	return ex.BaseURL + "/address/" + address
}
