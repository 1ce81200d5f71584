package main

const usage = `launches a coordination server for zero-knowledge trusted-setup ceremonies,
serializing contributors through per-circuit waiting queues and verifying
every uploaded contribution`
