package messaging

// Topic constants for the miner's event stream
const (
	TopicSolutions = "gominer.solutions" // every validated solution
	TopicBlocks    = "gominer.blocks"    // solutions meeting the network target, with the submit outcome
	TopicHashrate  = "gominer.hashrate"  // periodic per-solver hashrate samples
)
