// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/awcullen/opcua/client"
	"github.com/awcullen/opcua/ua"
	"github.com/spf13/viper"

	opcua "github.com/edgeo-scada/opcua-managed"
)

func parseSecurityPolicy(s string) (string, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return ua.SecurityPolicyURINone, nil
	case "basic128rsa15":
		return ua.SecurityPolicyURIBasic128Rsa15, nil
	case "basic256":
		return ua.SecurityPolicyURIBasic256, nil
	case "basic256sha256":
		return ua.SecurityPolicyURIBasic256Sha256, nil
	case "aes128sha256rsaoaep", "aes128sha256":
		return ua.SecurityPolicyURIAes128Sha256RsaOaep, nil
	case "aes256sha256rsapss", "aes256sha256":
		return ua.SecurityPolicyURIAes256Sha256RsaPss, nil
	default:
		return "", fmt.Errorf("unknown security policy: %s", s)
	}
}

func parseSecurityMode(s string) (ua.MessageSecurityMode, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return ua.MessageSecurityModeNone, nil
	case "sign":
		return ua.MessageSecurityModeSign, nil
	case "signandencrypt", "sign_and_encrypt":
		return ua.MessageSecurityModeSignAndEncrypt, nil
	default:
		return 0, fmt.Errorf("unknown security mode: %s", s)
	}
}

func buildDialOptions() ([]client.Option, error) {
	policy, err := parseSecurityPolicy(viper.GetString("security-policy"))
	if err != nil {
		return nil, err
	}
	mode, err := parseSecurityMode(viper.GetString("security-mode"))
	if err != nil {
		return nil, err
	}

	cert, key := viper.GetString("cert"), viper.GetString("key")
	if (cert == "") != (key == "") {
		return nil, fmt.Errorf("both --cert and --key must be specified together")
	}
	if mode != ua.MessageSecurityModeNone && policy == ua.SecurityPolicyURINone {
		return nil, fmt.Errorf("security mode %s requires a security policy other than None", viper.GetString("security-mode"))
	}
	if mode != ua.MessageSecurityModeNone && cert == "" {
		return nil, fmt.Errorf("security mode %s requires a client certificate (use --cert and --key)", viper.GetString("security-mode"))
	}

	opts := []client.Option{
		client.WithSecurityPolicyURI(policy, mode),
		client.WithInsecureSkipVerify(),
	}
	if cert != "" {
		opts = append(opts, client.WithClientCertificateFile(cert, key))
	}
	if u := viper.GetString("username"); u != "" {
		opts = append(opts, client.WithUserNameIdentity(u, viper.GetString("password")))
	}
	return opts, nil
}

// dial opens a session on the configured endpoint.
func dial(ctx context.Context) (*client.Client, error) {
	opts, err := buildDialOptions()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout())
	defer cancel()

	c, err := client.Dial(ctx, viper.GetString("endpoint"), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return c, nil
}

func operationTimeout() time.Duration {
	return time.Duration(viper.GetInt("timeout")) * time.Millisecond
}

func parseNodeIDs(args []string) ([]opcua.ReadValueID, error) {
	out := make([]opcua.ReadValueID, len(args))
	for i, s := range args {
		id, err := opcua.ParseNodeID(s)
		if err != nil {
			return nil, fmt.Errorf("invalid node ID %q: %w", s, err)
		}
		out[i] = opcua.ReadValueID{NodeID: id, AttributeID: opcua.AttributeValue}
	}
	return out, nil
}

func jsonOutput() bool {
	return viper.GetString("output") == "json"
}

func printJSON(v interface{}) error {
	return json.NewEncoder(os.Stdout).Encode(v)
}

// valueOf unwraps a DataValue for printing.
func valueOf(dv opcua.DataValue) interface{} {
	if dv.Value == nil {
		return nil
	}
	return dv.Value.Value
}
