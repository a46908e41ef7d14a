// Package quicksight implements the remote.Client contract over the AWS
// QuickSight API.
package quicksight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	qs "github.com/aws/aws-sdk-go-v2/service/quicksight"
	"github.com/aws/aws-sdk-go-v2/service/quicksight/types"
	"github.com/aws/smithy-go"

	"github.com/sightsync/sightsync/internal/asset"
	"github.com/sightsync/sightsync/internal/metrics"
	"github.com/sightsync/sightsync/internal/remote"
)

const listPageSize = 100

// Config holds the QuickSight connection settings.
type Config struct {
	AccountID string
	Region    string
}

// Client is the QuickSight-backed remote.Client. It issues raw calls only;
// retries, pacing, and backoff belong to the callers.
type Client struct {
	api       *qs.Client
	dsAPI     *qs.Client
	accountID string
}

var _ remote.Client = (*Client)(nil)

// New builds a client from the ambient AWS credential chain. The SDK's own
// retrier is disabled; the engine layers its own retry policies with
// classification on top.
func New(ctx context.Context, cfg Config) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	noRetry := func(o *qs.Options) {
		o.Retryer = aws.NopRetryer{}
	}

	// Data source enumeration goes through its own client instance so that
	// its listing path stays isolated from the paginated listing options of
	// the primary client.
	return &Client{
		api:       qs.NewFromConfig(awsCfg, noRetry),
		dsAPI:     qs.NewFromConfig(awsCfg, noRetry),
		accountID: cfg.AccountID,
	}, nil
}

// wrap converts an SDK error into a classified APIError.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &remote.APIError{
			Op:    op,
			Code:  apiErr.ErrorCode(),
			Class: remote.ClassifyCode(apiErr.ErrorCode()),
			Err:   err,
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func observe(op string, start time.Time, err error) {
	metrics.RecordRemoteCall(op, time.Since(start), err == nil)
}

// ListPage fetches one page of summaries for a kind.
func (c *Client) ListPage(ctx context.Context, kind asset.Kind, token *string) (remote.Page, error) {
	switch kind {
	case asset.KindDashboard:
		return c.listDashboards(ctx, token)
	case asset.KindDataset:
		return c.listDatasets(ctx, token)
	case asset.KindAnalysis:
		return c.listAnalyses(ctx, token)
	default:
		return remote.Page{}, fmt.Errorf("list: kind %q has no paginated listing", kind)
	}
}

func (c *Client) listDashboards(ctx context.Context, token *string) (remote.Page, error) {
	start := time.Now()
	out, err := c.api.ListDashboards(ctx, &qs.ListDashboardsInput{
		AwsAccountId: &c.accountID,
		NextToken:    token,
		MaxResults:   aws.Int32(listPageSize),
	})
	observe("ListDashboards", start, err)
	if err != nil {
		return remote.Page{}, wrap("ListDashboards", err)
	}

	page := remote.Page{NextToken: out.NextToken}
	for _, d := range out.DashboardSummaryList {
		page.Items = append(page.Items, asset.DashboardSummary{
			DashboardID:      aws.ToString(d.DashboardId),
			DisplayName:      aws.ToString(d.Name),
			Arn:              aws.ToString(d.Arn),
			PublishedVersion: aws.ToInt64(d.PublishedVersionNumber),
			CreatedAt:        d.CreatedTime,
			UpdatedAt:        d.LastUpdatedTime,
		})
	}
	return page, nil
}

func (c *Client) listDatasets(ctx context.Context, token *string) (remote.Page, error) {
	start := time.Now()
	out, err := c.api.ListDataSets(ctx, &qs.ListDataSetsInput{
		AwsAccountId: &c.accountID,
		NextToken:    token,
		MaxResults:   aws.Int32(listPageSize),
	})
	observe("ListDataSets", start, err)
	if err != nil {
		return remote.Page{}, wrap("ListDataSets", err)
	}

	page := remote.Page{NextToken: out.NextToken}
	for _, d := range out.DataSetSummaries {
		page.Items = append(page.Items, asset.DatasetSummary{
			DatasetID:   aws.ToString(d.DataSetId),
			DisplayName: aws.ToString(d.Name),
			Arn:         aws.ToString(d.Arn),
			ImportMode:  string(d.ImportMode),
			CreatedAt:   d.CreatedTime,
			UpdatedAt:   d.LastUpdatedTime,
		})
	}
	return page, nil
}

func (c *Client) listAnalyses(ctx context.Context, token *string) (remote.Page, error) {
	start := time.Now()
	out, err := c.api.ListAnalyses(ctx, &qs.ListAnalysesInput{
		AwsAccountId: &c.accountID,
		NextToken:    token,
		MaxResults:   aws.Int32(listPageSize),
	})
	observe("ListAnalyses", start, err)
	if err != nil {
		return remote.Page{}, wrap("ListAnalyses", err)
	}

	page := remote.Page{NextToken: out.NextToken}
	for _, a := range out.AnalysisSummaryList {
		page.Items = append(page.Items, asset.AnalysisSummary{
			AnalysisID:  aws.ToString(a.AnalysisId),
			DisplayName: aws.ToString(a.Name),
			Arn:         aws.ToString(a.Arn),
			Status:      string(a.Status),
			CreatedAt:   a.CreatedTime,
			UpdatedAt:   a.LastUpdatedTime,
		})
	}
	return page, nil
}

// ListDataSources enumerates all data sources through the dedicated client,
// draining the paginator internally so callers see a single complete result.
func (c *Client) ListDataSources(ctx context.Context) ([]asset.Summary, error) {
	var all []asset.Summary
	paginator := qs.NewListDataSourcesPaginator(c.dsAPI, &qs.ListDataSourcesInput{
		AwsAccountId: &c.accountID,
		MaxResults:   aws.Int32(listPageSize),
	})
	for paginator.HasMorePages() {
		start := time.Now()
		out, err := paginator.NextPage(ctx)
		observe("ListDataSources", start, err)
		if err != nil {
			return nil, wrap("ListDataSources", err)
		}
		for _, d := range out.DataSources {
			all = append(all, asset.DataSourceSummary{
				DataSourceID: aws.ToString(d.DataSourceId),
				DisplayName:  aws.ToString(d.Name),
				Arn:          aws.ToString(d.Arn),
				SourceType:   string(d.Type),
				CreatedAt:    d.CreatedTime,
				UpdatedAt:    d.LastUpdatedTime,
			})
		}
	}
	return all, nil
}

// Describe fetches the full definition of one asset.
func (c *Client) Describe(ctx context.Context, kind asset.Kind, id string) (asset.Detail, error) {
	switch kind {
	case asset.KindDashboard:
		return c.describeDashboard(ctx, id)
	case asset.KindDataset:
		return c.describeDataset(ctx, id)
	case asset.KindAnalysis:
		return c.describeAnalysis(ctx, id)
	case asset.KindDataSource:
		return c.describeDataSource(ctx, id)
	default:
		return asset.Detail{}, fmt.Errorf("describe: unknown kind %q", kind)
	}
}

func (c *Client) describeDashboard(ctx context.Context, id string) (asset.Detail, error) {
	start := time.Now()
	out, err := c.api.DescribeDashboardDefinition(ctx, &qs.DescribeDashboardDefinitionInput{
		AwsAccountId: &c.accountID,
		DashboardId:  &id,
	})
	observe("DescribeDashboardDefinition", start, err)
	if err != nil {
		return asset.Detail{}, wrap("DescribeDashboardDefinition", err)
	}

	def, err := json.Marshal(out.Definition)
	if err != nil {
		return asset.Detail{}, fmt.Errorf("encode dashboard definition: %w", err)
	}
	meta := map[string]any{"resourceStatus": string(out.ResourceStatus)}
	if out.ThemeArn != nil {
		meta["themeArn"] = aws.ToString(out.ThemeArn)
	}
	return asset.Detail{
		Name:       aws.ToString(out.Name),
		Definition: def,
		Metadata:   meta,
	}, nil
}

func (c *Client) describeDataset(ctx context.Context, id string) (asset.Detail, error) {
	start := time.Now()
	out, err := c.api.DescribeDataSet(ctx, &qs.DescribeDataSetInput{
		AwsAccountId: &c.accountID,
		DataSetId:    &id,
	})
	observe("DescribeDataSet", start, err)
	if err != nil {
		return asset.Detail{}, wrap("DescribeDataSet", err)
	}
	ds := out.DataSet
	if ds == nil {
		return asset.Detail{}, &remote.APIError{
			Op:    "DescribeDataSet",
			Code:  "EmptyResponse",
			Class: remote.ClassFatal,
			Err:   fmt.Errorf("dataset %s: empty describe response", id),
		}
	}

	def, err := json.Marshal(ds)
	if err != nil {
		return asset.Detail{}, fmt.Errorf("encode dataset definition: %w", err)
	}
	return asset.Detail{
		Name:         aws.ToString(ds.Name),
		Arn:          aws.ToString(ds.Arn),
		LastModified: ds.LastUpdatedTime,
		Definition:   def,
		Metadata:     map[string]any{"importMode": string(ds.ImportMode)},
	}, nil
}

func (c *Client) describeAnalysis(ctx context.Context, id string) (asset.Detail, error) {
	start := time.Now()
	out, err := c.api.DescribeAnalysisDefinition(ctx, &qs.DescribeAnalysisDefinitionInput{
		AwsAccountId: &c.accountID,
		AnalysisId:   &id,
	})
	observe("DescribeAnalysisDefinition", start, err)
	if err != nil {
		return asset.Detail{}, wrap("DescribeAnalysisDefinition", err)
	}

	def, err := json.Marshal(out.Definition)
	if err != nil {
		return asset.Detail{}, fmt.Errorf("encode analysis definition: %w", err)
	}
	meta := map[string]any{"resourceStatus": string(out.ResourceStatus)}
	if out.ThemeArn != nil {
		meta["themeArn"] = aws.ToString(out.ThemeArn)
	}
	return asset.Detail{
		Name:       aws.ToString(out.Name),
		Definition: def,
		Metadata:   meta,
	}, nil
}

func (c *Client) describeDataSource(ctx context.Context, id string) (asset.Detail, error) {
	start := time.Now()
	out, err := c.dsAPI.DescribeDataSource(ctx, &qs.DescribeDataSourceInput{
		AwsAccountId: &c.accountID,
		DataSourceId: &id,
	})
	observe("DescribeDataSource", start, err)
	if err != nil {
		return asset.Detail{}, wrap("DescribeDataSource", err)
	}
	ds := out.DataSource
	if ds == nil {
		return asset.Detail{}, &remote.APIError{
			Op:    "DescribeDataSource",
			Code:  "EmptyResponse",
			Class: remote.ClassFatal,
			Err:   fmt.Errorf("data source %s: empty describe response", id),
		}
	}

	def, err := json.Marshal(ds)
	if err != nil {
		return asset.Detail{}, fmt.Errorf("encode data source definition: %w", err)
	}
	return asset.Detail{
		Name:         aws.ToString(ds.Name),
		Arn:          aws.ToString(ds.Arn),
		LastModified: ds.LastUpdatedTime,
		Definition:   def,
		Metadata:     map[string]any{"type": string(ds.Type)},
	}, nil
}

// GetPermissions fetches the resource permissions of one asset.
func (c *Client) GetPermissions(ctx context.Context, kind asset.Kind, id string) ([]asset.Permission, error) {
	var (
		perms []types.ResourcePermission
		op    string
		err   error
	)

	start := time.Now()
	switch kind {
	case asset.KindDashboard:
		op = "DescribeDashboardPermissions"
		var out *qs.DescribeDashboardPermissionsOutput
		out, err = c.api.DescribeDashboardPermissions(ctx, &qs.DescribeDashboardPermissionsInput{
			AwsAccountId: &c.accountID,
			DashboardId:  &id,
		})
		if out != nil {
			perms = out.Permissions
		}
	case asset.KindDataset:
		op = "DescribeDataSetPermissions"
		var out *qs.DescribeDataSetPermissionsOutput
		out, err = c.api.DescribeDataSetPermissions(ctx, &qs.DescribeDataSetPermissionsInput{
			AwsAccountId: &c.accountID,
			DataSetId:    &id,
		})
		if out != nil {
			perms = out.Permissions
		}
	case asset.KindAnalysis:
		op = "DescribeAnalysisPermissions"
		var out *qs.DescribeAnalysisPermissionsOutput
		out, err = c.api.DescribeAnalysisPermissions(ctx, &qs.DescribeAnalysisPermissionsInput{
			AwsAccountId: &c.accountID,
			AnalysisId:   &id,
		})
		if out != nil {
			perms = out.Permissions
		}
	case asset.KindDataSource:
		op = "DescribeDataSourcePermissions"
		var out *qs.DescribeDataSourcePermissionsOutput
		out, err = c.dsAPI.DescribeDataSourcePermissions(ctx, &qs.DescribeDataSourcePermissionsInput{
			AwsAccountId: &c.accountID,
			DataSourceId: &id,
		})
		if out != nil {
			perms = out.Permissions
		}
	default:
		return nil, fmt.Errorf("permissions: unknown kind %q", kind)
	}
	observe(op, start, err)
	if err != nil {
		return nil, wrap(op, err)
	}

	result := make([]asset.Permission, 0, len(perms))
	for _, p := range perms {
		result = append(result, asset.Permission{
			Principal: aws.ToString(p.Principal),
			Actions:   p.Actions,
		})
	}
	return result, nil
}

// GetTags fetches the tags of one asset by its ARN-shaped resource path.
func (c *Client) GetTags(ctx context.Context, kind asset.Kind, id string) ([]asset.Tag, error) {
	arn := c.resourceARN(kind, id)
	start := time.Now()
	out, err := c.api.ListTagsForResource(ctx, &qs.ListTagsForResourceInput{
		ResourceArn: &arn,
	})
	observe("ListTagsForResource", start, err)
	if err != nil {
		return nil, wrap("ListTagsForResource", err)
	}

	result := make([]asset.Tag, 0, len(out.Tags))
	for _, t := range out.Tags {
		result = append(result, asset.Tag{
			Key:   aws.ToString(t.Key),
			Value: aws.ToString(t.Value),
		})
	}
	return result, nil
}

func (c *Client) resourceARN(kind asset.Kind, id string) string {
	region := c.api.Options().Region
	return fmt.Sprintf("arn:aws:quicksight:%s:%s:%s/%s", region, c.accountID, kind, id)
}
