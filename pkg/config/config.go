package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for Recibo server configuration
const (
	EnvReciboAuthMode         = "RECIBO_AUTH_MODE"
	EnvReciboOwnerAddress     = "RECIBO_OWNER_ADDRESS"
	EnvReciboServiceAddress   = "RECIBO_SERVICE_ADDRESS"
	EnvReciboTrustedForwarder = "RECIBO_TRUSTED_FORWARDER"
	EnvReciboDomainName       = "RECIBO_DOMAIN_NAME"
	EnvReciboDomainVersion    = "RECIBO_DOMAIN_VERSION"
	EnvReciboChainID          = "RECIBO_CHAIN_ID"
	EnvReciboLedgerType       = "RECIBO_LEDGER_TYPE"
	EnvReciboLedgerPath       = "RECIBO_LEDGER_PATH"
	EnvReciboRedisAddress     = "RECIBO_REDIS_ADDRESS"
	EnvReciboTokenMode        = "RECIBO_TOKEN_MODE"
	EnvReciboRPCURL           = "RECIBO_RPC_URL"
	EnvReciboTokenAddress     = "RECIBO_TOKEN_ADDRESS"
	EnvReciboOperatorKey      = "RECIBO_OPERATOR_PRIVATE_KEY"
	EnvReciboPort             = "RECIBO_PORT"
	EnvReciboVerbose          = "RECIBO_VERBOSE"
)

// Defaults for the typed-data signing domain. Immutable per deployment.
const (
	DefaultDomainName    = "Recibo"
	DefaultDomainVersion = "1"
)

// LedgerType selects the authorization ledger backend.
type LedgerType string

const (
	LedgerTypeMemory LedgerType = "memory"
	LedgerTypeBadger LedgerType = "badger"
	LedgerTypeRedis  LedgerType = "redis"
)

// TokenMode selects the token collaborator backend.
type TokenMode string

const (
	// TokenModeMemory uses the in-process token double. Development only.
	TokenModeMemory TokenMode = "memory"
	// TokenModeBound binds a live ERC-20 over RPC.
	TokenModeBound TokenMode = "bound"
)

type ChainId uint

const (
	ChainId_EthereumMainnet ChainId = 1
	ChainId_EthereumSepolia ChainId = 11155111
	ChainId_EthereumAnvil   ChainId = 31337
)

type ChainName string

const (
	ChainName_EthereumMainnet ChainName = "mainnet"
	ChainName_EthereumSepolia ChainName = "sepolia"
	ChainName_EthereumAnvil   ChainName = "devnet"
)

var ChainIdToName = map[ChainId]ChainName{
	ChainId_EthereumMainnet: ChainName_EthereumMainnet,
	ChainId_EthereumSepolia: ChainName_EthereumSepolia,
	ChainId_EthereumAnvil:   ChainName_EthereumAnvil,
}

// GetSupportedChainIDsString returns supported chain IDs for CLI help.
func GetSupportedChainIDsString() string {
	return fmt.Sprintf("%d (mainnet), %d (sepolia), %d (anvil)",
		ChainId_EthereumMainnet, ChainId_EthereumSepolia, ChainId_EthereumAnvil)
}

// ServerConfig represents the complete configuration for a Recibo server.
type ServerConfig struct {
	// Authentication mode, fixed at deployment: direct, forwarder, signature.
	AuthMode string `json:"auth_mode"`

	// OwnerAddress may change the trusted forwarder (forwarder mode).
	OwnerAddress string `json:"owner_address"`

	// ServiceAddress is this deployment's identity: the spender of composed
	// self-permits and part of the typed-data domain.
	ServiceAddress string `json:"service_address"`

	// TrustedForwarder is required in forwarder mode.
	TrustedForwarder string `json:"trusted_forwarder,omitempty"`

	// Typed-data domain.
	DomainName    string  `json:"domain_name"`
	DomainVersion string  `json:"domain_version"`
	ChainID       ChainId `json:"chain_id"`

	// Authorization ledger backend.
	LedgerType   LedgerType `json:"ledger_type"`
	LedgerPath   string     `json:"ledger_path,omitempty"`
	RedisAddress string     `json:"redis_address,omitempty"`

	// Token collaborator backend.
	TokenMode   TokenMode          `json:"token_mode"`
	RemoteToken *RemoteTokenConfig `json:"remote_token,omitempty"`

	// Operational settings.
	Port    int  `json:"port"`
	Verbose bool `json:"verbose"`

	ChainName ChainName `json:"chain_name,omitempty"`
}

// Validate validates the server configuration and fills derived fields.
func (c *ServerConfig) Validate() error {
	switch c.AuthMode {
	case "direct", "forwarder", "signature":
	default:
		return fmt.Errorf("auth mode must be one of direct, forwarder, signature; got %q", c.AuthMode)
	}

	if c.ServiceAddress == "" {
		return fmt.Errorf("service address cannot be empty")
	}
	if !common.IsHexAddress(c.ServiceAddress) {
		return fmt.Errorf("invalid service address format: %s", c.ServiceAddress)
	}

	if c.OwnerAddress != "" && !common.IsHexAddress(c.OwnerAddress) {
		return fmt.Errorf("invalid owner address format: %s", c.OwnerAddress)
	}

	if c.AuthMode == "forwarder" {
		if c.TrustedForwarder == "" {
			return fmt.Errorf("forwarder mode requires a trusted forwarder address")
		}
		if !common.IsHexAddress(c.TrustedForwarder) {
			return fmt.Errorf("invalid trusted forwarder address format: %s", c.TrustedForwarder)
		}
		// Forwarder rotation is owner-gated; without an owner the zero
		// address would hold rotation authority.
		if c.OwnerAddress == "" {
			return fmt.Errorf("forwarder mode requires an owner address")
		}
	}

	if c.DomainName == "" {
		c.DomainName = DefaultDomainName
	}
	if c.DomainVersion == "" {
		c.DomainVersion = DefaultDomainVersion
	}

	chainName, exists := ChainIdToName[c.ChainID]
	if !exists {
		return fmt.Errorf("unsupported chain ID %d. Supported: %s", c.ChainID, GetSupportedChainIDsString())
	}
	c.ChainName = chainName

	switch c.LedgerType {
	case LedgerTypeMemory:
	case LedgerTypeBadger:
		if c.LedgerPath == "" {
			return fmt.Errorf("badger ledger requires a data path")
		}
	case LedgerTypeRedis:
		if c.RedisAddress == "" {
			return fmt.Errorf("redis ledger requires a redis address")
		}
	default:
		return fmt.Errorf("ledger type must be one of memory, badger, redis; got %q", c.LedgerType)
	}

	switch c.TokenMode {
	case TokenModeMemory:
	case TokenModeBound:
		if c.RemoteToken == nil {
			return fmt.Errorf("bound token mode requires remote token configuration")
		}
		if err := c.RemoteToken.Validate(); err != nil {
			return fmt.Errorf("invalid remote token configuration: %w", err)
		}
	default:
		return fmt.Errorf("token mode must be one of memory, bound; got %q", c.TokenMode)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1-65535, got %d", c.Port)
	}

	return nil
}

// RemoteTokenConfig configures the bound (on-chain) token collaborator.
type RemoteTokenConfig struct {
	RpcUrl       string `json:"rpcUrl" yaml:"rpcUrl"`
	TokenAddress string `json:"tokenAddress" yaml:"tokenAddress"`
	// OperatorPrivateKey signs the transactions the engine submits.
	OperatorPrivateKey string `json:"operatorPrivateKey" yaml:"operatorPrivateKey"`
}

func (rtc *RemoteTokenConfig) Validate() error {
	var allErrors field.ErrorList
	if rtc.RpcUrl == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("rpcUrl"), "rpcUrl is required"))
	}
	if rtc.TokenAddress == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("tokenAddress"), "tokenAddress is required"))
	} else if !common.IsHexAddress(rtc.TokenAddress) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("tokenAddress"), rtc.TokenAddress, "must be a hex address"))
	}
	if rtc.OperatorPrivateKey == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("operatorPrivateKey"), "operatorPrivateKey is required"))
	} else {
		key := rtc.OperatorPrivateKey
		if !strings.HasPrefix(key, "0x") {
			key = "0x" + key
		}
		if len(key) != 66 { // 0x + 64 hex chars
			allErrors = append(allErrors, field.Invalid(field.NewPath("operatorPrivateKey"), "<redacted>",
				"must be 32 bytes (64 hex chars)"))
		}
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}
