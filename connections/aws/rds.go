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
	"github.com/aws/aws-sdk-go-v2/service/rds"
)

// rdsMinRecords is the smallest page RDS describe calls accept
const rdsMinRecords = 20

// RDSAPI is the subset of the RDS client used by the backend
type RDSAPI interface {
	DescribeDBEngineVersions(ctx context.Context, in *rds.DescribeDBEngineVersionsInput, optFns ...func(*rds.Options)) (*rds.DescribeDBEngineVersionsOutput, error)
	DescribeDBInstances(ctx context.Context, in *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
	DescribeDBClusters(ctx context.Context, in *rds.DescribeDBClustersInput, optFns ...func(*rds.Options)) (*rds.DescribeDBClustersOutput, error)
}

// maxRecords reads max_records, raising it to the RDS minimum
func (p params) maxRecords() (*int32, error) {
	n, ok, err := p.number("max_records")
	if err != nil || !ok {
		return nil, err
	}
	if n < rdsMinRecords {
		n = rdsMinRecords
	}
	return aws.Int32(n), nil
}

func rdsDescribeEngineVersions(ctx context.Context, c *Clients, p params) (interface{}, error) {
	in := &rds.DescribeDBEngineVersionsInput{}
	if engine := p.str("engine"); engine != "" {
		in.Engine = aws.String(engine)
	}
	limit, err := p.maxRecords()
	if err != nil {
		return nil, err
	}
	in.MaxRecords = limit

	out, err := c.RDS.DescribeDBEngineVersions(ctx, in)
	if err != nil {
		return nil, err
	}
	versions := make([]map[string]interface{}, 0, len(out.DBEngineVersions))
	for _, v := range out.DBEngineVersions {
		versions = append(versions, map[string]interface{}{
			"engine":         aws.ToString(v.Engine),
			"engine_version": aws.ToString(v.EngineVersion),
			"description":    aws.ToString(v.DBEngineDescription),
		})
	}
	return map[string]interface{}{
		"engine_versions": versions,
		"marker":          aws.ToString(out.Marker),
	}, nil
}

func rdsDescribeInstances(ctx context.Context, c *Clients, p params) (interface{}, error) {
	in := &rds.DescribeDBInstancesInput{}
	if id := p.str("db_instance_identifier"); id != "" {
		in.DBInstanceIdentifier = aws.String(id)
	}
	if marker := p.str("marker"); marker != "" {
		in.Marker = aws.String(marker)
	}
	limit, err := p.maxRecords()
	if err != nil {
		return nil, err
	}
	in.MaxRecords = limit

	out, err := c.RDS.DescribeDBInstances(ctx, in)
	if err != nil {
		return nil, err
	}
	instances := make([]map[string]interface{}, 0, len(out.DBInstances))
	for _, db := range out.DBInstances {
		endpoint := ""
		if db.Endpoint != nil {
			endpoint = aws.ToString(db.Endpoint.Address)
		}
		instances = append(instances, map[string]interface{}{
			"db_instance_identifier": aws.ToString(db.DBInstanceIdentifier),
			"db_instance_class":      aws.ToString(db.DBInstanceClass),
			"engine":                 aws.ToString(db.Engine),
			"engine_version":         aws.ToString(db.EngineVersion),
			"status":                 aws.ToString(db.DBInstanceStatus),
			"endpoint":               endpoint,
		})
	}
	return map[string]interface{}{
		"db_instances": instances,
		"marker":       aws.ToString(out.Marker),
	}, nil
}

func rdsDescribeClusters(ctx context.Context, c *Clients, p params) (interface{}, error) {
	in := &rds.DescribeDBClustersInput{}
	if id := p.str("db_cluster_identifier"); id != "" {
		in.DBClusterIdentifier = aws.String(id)
	}
	out, err := c.RDS.DescribeDBClusters(ctx, in)
	if err != nil {
		return nil, err
	}
	clusters := make([]map[string]interface{}, 0, len(out.DBClusters))
	for _, cl := range out.DBClusters {
		clusters = append(clusters, map[string]interface{}{
			"db_cluster_identifier": aws.ToString(cl.DBClusterIdentifier),
			"engine":                aws.ToString(cl.Engine),
			"status":                aws.ToString(cl.Status),
			"endpoint":              aws.ToString(cl.Endpoint),
		})
	}
	return map[string]interface{}{"db_clusters": clusters}, nil
}
