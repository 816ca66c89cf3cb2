// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
)

// IAMAPI is the subset of the IAM client used by the backend
type IAMAPI interface {
	ListAccountAliases(ctx context.Context, in *iam.ListAccountAliasesInput, optFns ...func(*iam.Options)) (*iam.ListAccountAliasesOutput, error)
	ListUsers(ctx context.Context, in *iam.ListUsersInput, optFns ...func(*iam.Options)) (*iam.ListUsersOutput, error)
	GetUser(ctx context.Context, in *iam.GetUserInput, optFns ...func(*iam.Options)) (*iam.GetUserOutput, error)
	ListRoles(ctx context.Context, in *iam.ListRolesInput, optFns ...func(*iam.Options)) (*iam.ListRolesOutput, error)
}

func iamListAccountAliases(ctx context.Context, c *Clients, p params) (interface{}, error) {
	out, err := c.IAM.ListAccountAliases(ctx, &iam.ListAccountAliasesInput{})
	if err != nil {
		return nil, err
	}
	aliases := out.AccountAliases
	if aliases == nil {
		aliases = []string{}
	}
	return map[string]interface{}{"account_aliases": aliases}, nil
}

func iamListUsers(ctx context.Context, c *Clients, p params) (interface{}, error) {
	in := &iam.ListUsersInput{}
	if prefix := p.str("path_prefix"); prefix != "" {
		in.PathPrefix = aws.String(prefix)
	}
	if marker := p.str("marker"); marker != "" {
		in.Marker = aws.String(marker)
	}
	maxItems, ok, err := p.number("max_items")
	if err != nil {
		return nil, err
	}
	if ok {
		in.MaxItems = aws.Int32(maxItems)
	}

	out, err := c.IAM.ListUsers(ctx, in)
	if err != nil {
		return nil, err
	}
	users := make([]map[string]interface{}, 0, len(out.Users))
	for _, u := range out.Users {
		users = append(users, map[string]interface{}{
			"user_name":   aws.ToString(u.UserName),
			"user_id":     aws.ToString(u.UserId),
			"arn":         aws.ToString(u.Arn),
			"create_date": timeValue(u.CreateDate),
		})
	}
	return map[string]interface{}{
		"users":  users,
		"marker": aws.ToString(out.Marker),
	}, nil
}

// iamGetUser returns the calling user when user_name is empty
func iamGetUser(ctx context.Context, c *Clients, p params) (interface{}, error) {
	in := &iam.GetUserInput{}
	if name := p.str("user_name"); name != "" {
		in.UserName = aws.String(name)
	}
	out, err := c.IAM.GetUser(ctx, in)
	if err != nil {
		return nil, err
	}
	if out.User == nil {
		return map[string]interface{}{}, nil
	}
	return map[string]interface{}{
		"user_name":   aws.ToString(out.User.UserName),
		"user_id":     aws.ToString(out.User.UserId),
		"arn":         aws.ToString(out.User.Arn),
		"create_date": timeValue(out.User.CreateDate),
	}, nil
}

func iamListRoles(ctx context.Context, c *Clients, p params) (interface{}, error) {
	in := &iam.ListRolesInput{}
	if prefix := p.str("path_prefix"); prefix != "" {
		in.PathPrefix = aws.String(prefix)
	}
	if marker := p.str("marker"); marker != "" {
		in.Marker = aws.String(marker)
	}
	out, err := c.IAM.ListRoles(ctx, in)
	if err != nil {
		return nil, err
	}
	roles := make([]map[string]interface{}, 0, len(out.Roles))
	for _, r := range out.Roles {
		roles = append(roles, map[string]interface{}{
			"role_name":   aws.ToString(r.RoleName),
			"role_id":     aws.ToString(r.RoleId),
			"arn":         aws.ToString(r.Arn),
			"create_date": timeValue(r.CreateDate),
		})
	}
	return map[string]interface{}{
		"roles":  roles,
		"marker": aws.ToString(out.Marker),
	}, nil
}
