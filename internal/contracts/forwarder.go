package contracts

// ForwarderABI is the ABI of the GaslessForwarder contract the relayer
// transacts against. Only the entrypoints the relayer invokes are listed.
const ForwarderABI = `[
  {
    "type": "function",
    "name": "createAccount",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "owner", "type": "address"},
      {"name": "funding", "type": "uint256"},
      {"name": "profileRef", "type": "bytes32"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "transfer",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "from", "type": "address"},
      {"name": "to", "type": "address"},
      {"name": "amount", "type": "uint256"},
      {"name": "memo", "type": "bytes32"}
    ],
    "outputs": []
  }
]`
