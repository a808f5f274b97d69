// Package ledger binds the escrow factory and per-job escrow contracts over
// JSON-RPC. Reads go straight to the chain; writes are signed by the caller's
// captured session identity.
package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const factoryABIJSON = `[
  {"type":"function","name":"createJobEscrow","stateMutability":"payable",
   "inputs":[{"name":"_freelancer","type":"address"},{"name":"_ipfsHash","type":"string"}],
   "outputs":[{"name":"jobId","type":"uint256"},{"name":"jobContract","type":"address"}]},
  {"type":"function","name":"getJobInfo","stateMutability":"view",
   "inputs":[{"name":"_jobId","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple","components":[
     {"name":"jobContract","type":"address"},
     {"name":"client","type":"address"},
     {"name":"freelancer","type":"address"},
     {"name":"amount","type":"uint256"},
     {"name":"ipfsHash","type":"string"},
     {"name":"isActive","type":"bool"},
     {"name":"createdAt","type":"uint256"}]}]},
  {"type":"function","name":"getClientJobs","stateMutability":"view",
   "inputs":[{"name":"_client","type":"address"}],
   "outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"getFreelancerJobs","stateMutability":"view",
   "inputs":[{"name":"_freelancer","type":"address"}],
   "outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"getAllActiveJobs","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"getContractCreationFee","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"JobCreated","anonymous":false,"inputs":[
     {"name":"jobId","type":"uint256","indexed":true},
     {"name":"jobContract","type":"address","indexed":true},
     {"name":"client","type":"address","indexed":true},
     {"name":"freelancer","type":"address","indexed":false},
     {"name":"amount","type":"uint256","indexed":false},
     {"name":"ipfsHash","type":"string","indexed":false}]}
]`

const escrowABIJSON = `[
  {"type":"function","name":"acceptJob","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"startWork","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"submitWork","stateMutability":"nonpayable",
   "inputs":[{"name":"_workHash","type":"string"}],"outputs":[]},
  {"type":"function","name":"approveWork","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"raiseDispute","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"getJobDetails","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"tuple","components":[
     {"name":"client","type":"address"},
     {"name":"freelancer","type":"address"},
     {"name":"amount","type":"uint256"},
     {"name":"status","type":"uint8"},
     {"name":"ipfsHash","type":"string"},
     {"name":"workSubmissionHash","type":"string"},
     {"name":"createdAt","type":"uint256"},
     {"name":"completedAt","type":"uint256"},
     {"name":"fundsReleased","type":"bool"}]}]},
  {"type":"function","name":"getBalance","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"JobAccepted","anonymous":false,"inputs":[
     {"name":"freelancer","type":"address","indexed":true},
     {"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"WorkStarted","anonymous":false,"inputs":[
     {"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"WorkSubmitted","anonymous":false,"inputs":[
     {"name":"workHash","type":"string","indexed":false},
     {"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"JobCompleted","anonymous":false,"inputs":[
     {"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"DisputeRaised","anonymous":false,"inputs":[
     {"name":"by","type":"address","indexed":true},
     {"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"FundsReleased","anonymous":false,"inputs":[
     {"name":"freelancer","type":"address","indexed":true},
     {"name":"amount","type":"uint256","indexed":false}]}
]`

var (
	FactoryABI = mustParse(factoryABIJSON)
	EscrowABI  = mustParse(escrowABIJSON)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("ledger: bad abi: " + err.Error())
	}
	return parsed
}
