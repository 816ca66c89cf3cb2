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
	"github.com/aws/aws-sdk-go-v2/service/ec2"
)

// EC2API is the subset of the EC2 client used by the backend
type EC2API interface {
	DescribeRegions(ctx context.Context, in *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeVpcs(ctx context.Context, in *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
}

func ec2DescribeRegions(ctx context.Context, c *Clients, p params) (interface{}, error) {
	in := &ec2.DescribeRegionsInput{RegionNames: p.strs("region_names")}
	if p.str("all_regions") == "true" {
		in.AllRegions = aws.Bool(true)
	}
	out, err := c.EC2.DescribeRegions(ctx, in)
	if err != nil {
		return nil, err
	}
	regions := make([]map[string]interface{}, 0, len(out.Regions))
	for _, r := range out.Regions {
		regions = append(regions, map[string]interface{}{
			"name":          aws.ToString(r.RegionName),
			"endpoint":      aws.ToString(r.Endpoint),
			"opt_in_status": aws.ToString(r.OptInStatus),
		})
	}
	return map[string]interface{}{"regions": regions}, nil
}

func ec2DescribeInstances(ctx context.Context, c *Clients, p params) (interface{}, error) {
	in := &ec2.DescribeInstancesInput{InstanceIds: p.strs("instance_ids")}
	if token := p.str("next_token"); token != "" {
		in.NextToken = aws.String(token)
	}
	maxResults, ok, err := p.number("max_results")
	if err != nil {
		return nil, err
	}
	if ok {
		in.MaxResults = aws.Int32(maxResults)
	}

	out, err := c.EC2.DescribeInstances(ctx, in)
	if err != nil {
		return nil, err
	}
	instances := make([]map[string]interface{}, 0)
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			state := ""
			if inst.State != nil {
				state = string(inst.State.Name)
			}
			instances = append(instances, map[string]interface{}{
				"instance_id":   aws.ToString(inst.InstanceId),
				"instance_type": string(inst.InstanceType),
				"state":         state,
				"private_ip":    aws.ToString(inst.PrivateIpAddress),
				"public_ip":     aws.ToString(inst.PublicIpAddress),
				"launch_time":   timeValue(inst.LaunchTime),
			})
		}
	}
	return map[string]interface{}{
		"instances":  instances,
		"next_token": aws.ToString(out.NextToken),
	}, nil
}

func ec2DescribeVpcs(ctx context.Context, c *Clients, p params) (interface{}, error) {
	out, err := c.EC2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{VpcIds: p.strs("vpc_ids")})
	if err != nil {
		return nil, err
	}
	vpcs := make([]map[string]interface{}, 0, len(out.Vpcs))
	for _, v := range out.Vpcs {
		vpcs = append(vpcs, map[string]interface{}{
			"vpc_id":     aws.ToString(v.VpcId),
			"cidr_block": aws.ToString(v.CidrBlock),
			"is_default": aws.ToBool(v.IsDefault),
			"state":      string(v.State),
		})
	}
	return map[string]interface{}{"vpcs": vpcs}, nil
}
